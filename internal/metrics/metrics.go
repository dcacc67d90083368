// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	discoveriesTotal           *prometheus.CounterVec
	artifactsTotal             *prometheus.CounterVec
	discoveryDurationSeconds   *prometheus.HistogramVec
	fetchesTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsTLSHandshakeTimeouts prometheus.Counter
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call repeatedly; every
// Observe helper calls it first.
func Init() {
	once.Do(func() {
		discoveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifact_discoveries_total",
				Help: "Discovery calls, labeled by site, mode and outcome.",
			},
			[]string{"site", "mode", "status"},
		)
		artifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifacts_decoded_total",
				Help: "Artifacts decoded, labeled by site.",
			},
			[]string{"site"},
		)
		discoveryDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifact_discovery_duration_seconds",
				Help:    "Latency of a discovery call including external fetches.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"mode"},
		)
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifact_fetches_total",
				Help: "Outbound fetches, labeled by fetcher and status code.",
			},
			[]string{"fetcher", "code"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
		robotsTLSHandshakeTimeouts = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "artifact_robots_tls_handshake_timeout_total",
				Help: "TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artifact_jobs_total",
				Help: "Discovery jobs processed, labeled by status.",
			},
			[]string{"status"},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "artifact_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artifact_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveDiscovery records one discovery call.
func ObserveDiscovery(site, mode, status string, artifacts int, duration time.Duration) {
	Init()
	host := SanitizeSite(site)
	discoveriesTotal.WithLabelValues(host, mode, status).Inc()
	if artifacts > 0 {
		artifactsTotal.WithLabelValues(host).Add(float64(artifacts))
	}
	discoveryDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveFetch records one outbound fetch. A zero code means a transport error.
func ObserveFetch(fetcher string, code int) {
	Init()
	fetchesTotal.WithLabelValues(fetcher, strconv.Itoa(code)).Inc()
}

// ObserveHTTPRequest records one served API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsTLSHandshakeTimeout increments the robots.txt handshake timeout counter.
func ObserveRobotsTLSHandshakeTimeout() {
	Init()
	robotsTLSHandshakeTimeouts.Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
