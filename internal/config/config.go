// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/artifact-loader/internal/discovery"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig                       `mapstructure:"server"`
	Auth         AuthConfig                         `mapstructure:"auth"`
	Fetch        FetchConfig                        `mapstructure:"fetch"`
	RateLimit    RateLimitConfig                    `mapstructure:"rate_limit"`
	Headless     HeadlessConfig                     `mapstructure:"headless"`
	Jobs         JobsConfig                         `mapstructure:"jobs"`
	Storage      StorageConfig                      `mapstructure:"storage"`
	DB           DBConfig                           `mapstructure:"db"`
	PubSub       PubSubConfig                       `mapstructure:"pubsub"`
	Logging      LoggingConfig                      `mapstructure:"logging"`
	Tracing      TracingConfig                      `mapstructure:"tracing"`
	StandardJobs map[string]discovery.JobParameters `mapstructure:"standard_jobs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FetchConfig governs how documents and JSON-LD resources are retrieved.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	IgnoreRobots   bool   `mapstructure:"ignore_robots"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	LenientJSON    bool   `mapstructure:"lenient_json"`
}

// RateLimitConfig sets the per-host request budget.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	SettleMillis    int  `mapstructure:"settle_ms"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// JobsConfig sizes the asynchronous job pipeline.
type JobsConfig struct {
	Workers           int `mapstructure:"workers"`
	QueueDepth        int `mapstructure:"queue_depth"`
	MaxURLs           int `mapstructure:"max_urls"`
	EnqueueTimeoutSec int `mapstructure:"enqueue_timeout_seconds"`
}

// StorageConfig selects where archived artifact lists go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// DBConfig controls access to Postgres. An empty DSN keeps records and flags
// in memory.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	RecordTable        string `mapstructure:"record_table"`
	FlagTable          string `mapstructure:"flag_table"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSec int    `mapstructure:"max_conn_lifetime_seconds"`
}

// PubSubConfig holds metadata for discovery notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from defaults, an optional file, and ARTIFACTS_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARTIFACTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("fetch.user_agent", "artifact-loader/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.ignore_robots", false)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.lenient_json", false)
	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 4)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.max_urls", 100)
	v.SetDefault("jobs.enqueue_timeout_seconds", 5)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("db.record_table", "artifact_discoveries")
	v.SetDefault("db.flag_table", "flags")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "artifact-loader")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.QueueDepth < 0 {
		return fmt.Errorf("jobs.queue_depth must be >= 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "", StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	for name, job := range c.StandardJobs {
		if len(job.URLs) == 0 {
			return fmt.Errorf("standard_jobs.%s.urls must not be empty", name)
		}
		if job.Mode != "" && !job.Mode.Valid() {
			return fmt.Errorf("standard_jobs.%s.mode %q is not supported", name, job.Mode)
		}
	}
	return nil
}

// FetchTimeout converts fetch.timeout_seconds to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RequestTimeout converts server.request_timeout_seconds to a duration,
// defaulting to one minute.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// EnqueueTimeout bounds how long job submission waits for queue space.
func (c Config) EnqueueTimeout() time.Duration {
	if c.Jobs.EnqueueTimeoutSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Jobs.EnqueueTimeoutSec) * time.Second
}
