package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artifact-loader/internal/discovery"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, "artifact-loader/0.1", cfg.Fetch.UserAgent)
	assert.InDelta(t, 2.0, cfg.RateLimit.RequestsPerSecond, 0.001)
	assert.Equal(t, 15*time.Second, cfg.FetchTimeout())
	assert.Equal(t, time.Minute, cfg.RequestTimeout())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 20
auth:
  enabled: true
  api_key: secret
fetch:
  user_agent: ar-agent
  timeout_seconds: 45
  ignore_robots: true
  lenient_json: true
rate_limit:
  requests_per_second: 0.5
  burst: 1
headless:
  enabled: true
  max_parallel: 2
jobs:
  workers: 8
  queue_depth: 128
storage:
  backend: local
  local_dir: /tmp/artifacts
logging:
  development: false
  level: debug
standard_jobs:
  museum-exhibits:
    urls: ["https://museum.example/exhibits"]
    mode: html
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout())
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.True(t, cfg.Fetch.IgnoreRobots)
	assert.True(t, cfg.Fetch.LenientJSON)
	assert.Equal(t, 45*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Equal(t, StorageLocal, cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)

	job, ok := cfg.StandardJobs["museum-exhibits"]
	require.True(t, ok)
	assert.Equal(t, []string{"https://museum.example/exhibits"}, job.URLs)
	assert.Equal(t, discovery.ModeHTML, job.Mode)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ARTIFACTS_SERVER_PORT", "7070")
	t.Setenv("ARTIFACTS_FETCH_USER_AGENT", "env-agent")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-agent", cfg.Fetch.UserAgent)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Jobs:   JobsConfig{Workers: 1},
		Fetch:  FetchConfig{TimeoutSeconds: 10},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid workers", func(c *Config) { c.Jobs.Workers = 0 }, "jobs.workers"},
		{"invalid timeout", func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, "fetch.timeout_seconds"},
		{"negative rate", func(c *Config) { c.RateLimit.RequestsPerSecond = -1 }, "rate_limit"},
		{"headless missing max parallel", func(c *Config) { c.Headless.Enabled = true }, "headless.max_parallel"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"local without dir", func(c *Config) { c.Storage.Backend = StorageLocal }, "storage.local_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = StorageGCS }, "storage.gcs_bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "not supported"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }, "tracing.sample_ratio"},
		{"empty standard job", func(c *Config) {
			c.StandardJobs = map[string]discovery.JobParameters{"x": {}}
		}, "standard_jobs.x.urls"},
		{"bad standard job mode", func(c *Config) {
			c.StandardJobs = map[string]discovery.JobParameters{"x": {URLs: []string{"u"}, Mode: "xml"}}
		}, "standard_jobs.x.mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			require.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}
