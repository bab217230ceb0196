package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8081, cfg.Tracking.Port)
	assert.Equal(t, "http://localhost:8081", cfg.Tracking.PublicURL)
	assert.Equal(t, 50, cfg.Delivery.BatchSize)
	assert.Equal(t, time.Second, cfg.Delivery.BatchDelay())
	assert.Equal(t, 30*time.Second, cfg.Delivery.SendTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Workers.SchedulerInterval())
	assert.Equal(t, time.Hour, cfg.Workers.StatsStaleness())
	assert.Equal(t, 30*24*time.Hour, cfg.Workers.RetentionAge())
	assert.Equal(t, 1000, cfg.Workers.RetentionBatchSize)
	assert.Equal(t, 6000, cfg.Redis.SendsPerMin)
	assert.Equal(t, "https://api.sparkpost.com", cfg.SparkPost.BaseURL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: api.internal
tracking:
  port: 9091
  public_url: https://links.example.com
database:
  url: postgres://localhost/campaigns
delivery:
  batch_size: 25
  batch_delay_seconds: 2
workers:
  scheduler_interval_secs: 60
  retention_days: 90
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://links.example.com", cfg.Tracking.PublicURL)
	assert.Equal(t, "postgres://localhost/campaigns", cfg.Database.URL)
	assert.Equal(t, 25, cfg.Delivery.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Delivery.BatchDelay())
	assert.Equal(t, time.Minute, cfg.Workers.SchedulerInterval())
	assert.Equal(t, 90*24*time.Hour, cfg.Workers.RetentionAge())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/dev
sparkpost:
  api_key: from-file
`)

	t.Setenv("DATABASE_URL", "postgres://prod-host/campaigns")
	t.Setenv("SPARKPOST_API_KEY", "from-env")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("TRACKING_PUBLIC_URL", "https://t.example.com")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://prod-host/campaigns", cfg.Database.URL)
	assert.Equal(t, "from-env", cfg.SparkPost.APIKey)
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "https://t.example.com", cfg.Tracking.PublicURL)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestServerAddr(t *testing.T) {
	c := ServerConfig{Host: "localhost", Port: 8080}
	assert.Equal(t, "localhost:8080", c.Addr())
}
