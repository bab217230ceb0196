package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SparkPost SparkPostConfig `yaml:"sparkpost"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Workers   WorkersConfig   `yaml:"workers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Addr returns the listen address for the API server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// TrackingConfig holds the public tracking endpoint configuration.
// PublicURL is the externally reachable base used when rewriting links
// and injecting open pixels, so it must match what recipients can resolve.
type TrackingConfig struct {
	Port       int    `yaml:"port"`
	Host       string `yaml:"host"`
	PublicURL  string `yaml:"public_url"`
	SigningKey string `yaml:"signing_key"`
}

// Addr returns the listen address for the tracking server.
func (c TrackingConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

// ConnMaxLifetime returns the connection lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig holds Redis configuration for send rate limiting
type RedisConfig struct {
	URL         string `yaml:"url"`
	Enabled     bool   `yaml:"enabled"`
	SendsPerMin int    `yaml:"sends_per_min"`
}

// SparkPostConfig holds SparkPost API configuration
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DeliveryConfig holds batch delivery engine configuration
type DeliveryConfig struct {
	BatchSize          int `yaml:"batch_size"`
	BatchDelaySeconds  int `yaml:"batch_delay_seconds"`
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
}

// BatchDelay returns the pause between batches as a duration
func (c DeliveryConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelaySeconds) * time.Second
}

// SendTimeout returns the per-recipient send timeout as a duration
func (c DeliveryConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// WorkersConfig holds background worker scheduling configuration
type WorkersConfig struct {
	SchedulerIntervalSecs int `yaml:"scheduler_interval_secs"`
	StatsIntervalSecs     int `yaml:"stats_interval_secs"`
	StatsStalenessSecs    int `yaml:"stats_staleness_secs"`
	RetentionIntervalHrs  int `yaml:"retention_interval_hrs"`
	RetentionDays         int `yaml:"retention_days"`
	RetentionBatchSize    int `yaml:"retention_batch_size"`
}

// SchedulerInterval returns the due-campaign polling interval as a duration
func (c WorkersConfig) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSecs) * time.Second
}

// StatsInterval returns the stats refresh interval as a duration
func (c WorkersConfig) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSecs) * time.Second
}

// StatsStaleness returns how old cached stats may get before a refresh
func (c WorkersConfig) StatsStaleness() time.Duration {
	return time.Duration(c.StatsStalenessSecs) * time.Second
}

// RetentionInterval returns the sweep interval as a duration
func (c WorkersConfig) RetentionInterval() time.Duration {
	return time.Duration(c.RetentionIntervalHrs) * time.Hour
}

// RetentionAge returns the event retention window as a duration
func (c WorkersConfig) RetentionAge() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Tracking.Port == 0 {
		cfg.Tracking.Port = 8081
	}
	if cfg.Tracking.Host == "" {
		cfg.Tracking.Host = "0.0.0.0"
	}
	if cfg.Tracking.PublicURL == "" {
		cfg.Tracking.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Tracking.Port)
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 30
	}
	if cfg.Redis.SendsPerMin == 0 {
		cfg.Redis.SendsPerMin = 6000
	}
	if cfg.SparkPost.BaseURL == "" {
		cfg.SparkPost.BaseURL = "https://api.sparkpost.com"
	}
	if cfg.SparkPost.TimeoutSeconds == 0 {
		cfg.SparkPost.TimeoutSeconds = 30
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 50
	}
	if cfg.Delivery.BatchDelaySeconds == 0 {
		cfg.Delivery.BatchDelaySeconds = 1
	}
	if cfg.Delivery.SendTimeoutSeconds == 0 {
		cfg.Delivery.SendTimeoutSeconds = 30
	}
	if cfg.Workers.SchedulerIntervalSecs == 0 {
		cfg.Workers.SchedulerIntervalSecs = 300
	}
	if cfg.Workers.StatsIntervalSecs == 0 {
		cfg.Workers.StatsIntervalSecs = 3600
	}
	if cfg.Workers.StatsStalenessSecs == 0 {
		cfg.Workers.StatsStalenessSecs = 3600
	}
	if cfg.Workers.RetentionIntervalHrs == 0 {
		cfg.Workers.RetentionIntervalHrs = 24
	}
	if cfg.Workers.RetentionDays == 0 {
		cfg.Workers.RetentionDays = 30
	}
	if cfg.Workers.RetentionBatchSize == 0 {
		cfg.Workers.RetentionBatchSize = 1000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
		cfg.Redis.Enabled = true
	}
	if apiKey := os.Getenv("SPARKPOST_API_KEY"); apiKey != "" {
		cfg.SparkPost.APIKey = apiKey
	}
	if baseURL := os.Getenv("SPARKPOST_BASE_URL"); baseURL != "" {
		cfg.SparkPost.BaseURL = baseURL
	}
	if trackingURL := os.Getenv("TRACKING_PUBLIC_URL"); trackingURL != "" {
		cfg.Tracking.PublicURL = trackingURL
	}
	if key := os.Getenv("TRACKING_SIGNING_KEY"); key != "" {
		cfg.Tracking.SigningKey = key
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}
