package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
	"github.com/JakeFAU/artifact-loader/internal/config"
	"github.com/JakeFAU/artifact-loader/internal/discovery"
	"github.com/JakeFAU/artifact-loader/internal/dispatcher"
	"github.com/JakeFAU/artifact-loader/internal/metrics"
)

// Discoverer is the subset of *loader.Loader the HTTP handlers call.
type Discoverer interface {
	FromHTMLURL(ctx context.Context, url string) ([]artifact.Artifact, error)
	FromJSONURL(ctx context.Context, url string) ([]artifact.Artifact, error)
	FromHTML(ctx context.Context, r io.Reader, baseURL string) ([]artifact.Artifact, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the loader, dispatcher, and stores.
type Server struct {
	router     chi.Router
	jobStore   discovery.JobStore
	dispatcher *dispatcher.Dispatcher
	loader     Discoverer
	flags      discovery.KeyValueStore
	idGen      discovery.IDGenerator
	clock      discovery.Clock
	cfg        config.Config
	logger     *zap.Logger
	checks     map[string]ReadinessCheck
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore discovery.JobStore,
	dispatcher *dispatcher.Dispatcher,
	loader Discoverer,
	flags discovery.KeyValueStore,
	idGen discovery.IDGenerator,
	clock discovery.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		loader:     loader,
		flags:      flags,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		checks:     map[string]ReadinessCheck{},
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout()))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/artifacts", func(r chi.Router) {
			r.Post("/discover", s.discoverArtifacts)
			r.Post("/extract", s.extractArtifacts)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitCustomJob)
			r.Post("/standard", s.submitStandardJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Route("/flags/{name}", func(r chi.Router) {
			r.Get("/", s.getFlag)
			r.Put("/", s.putFlag)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddReadinessCheck registers a dependency probed by /readyz.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checks[name] = check
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

const maxRequestBytes = 4 << 20
