// Package config loads and validates the server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Retry    RetryConfig    `yaml:"retry"`
	Bulk     BulkConfig     `yaml:"bulk"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"` // Default: :8080
	APIKey     string `yaml:"api_key"`     // Bearer token for the API; env COURIER_API_KEY overrides
}

// ProviderConfig contains the upstream email provider settings
type ProviderConfig struct {
	APIKey    string        `yaml:"api_key"`  // env RESEND_API_KEY overrides
	BaseURL   string        `yaml:"base_url"` // Default: https://api.resend.com
	FromEmail string        `yaml:"from_email"`
	FromName  string        `yaml:"from_name"`
	Timeout   time.Duration `yaml:"timeout"` // Default: 30s

	// Sandbox captures messages instead of sending them
	Sandbox          bool    `yaml:"sandbox"`
	SandboxErrorRate float64 `yaml:"sandbox_error_rate"` // 0.0 to 1.0, 0 disables simulation
}

// StorageConfig contains database paths
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"` // Default: courier.db
	EventsPath   string `yaml:"events_path"`   // Default: courier_events.db
}

// RetryConfig contains retry worker settings
type RetryConfig struct {
	ClaimLimit   int           `yaml:"claim_limit"`   // Default: 15
	PollInterval time.Duration `yaml:"poll_interval"` // Default: 30s
}

// BulkConfig contains bulk send pacing settings
type BulkConfig struct {
	SendDelay time.Duration `yaml:"send_delay"` // Default: 120ms
}

// WebhookConfig contains webhook ingress settings
type WebhookConfig struct {
	SigningSecret   string        `yaml:"signing_secret"` // env WEBHOOK_SIGNING_SECRET overrides
	DedupMaxAge     time.Duration `yaml:"dedup_max_age"`  // Default: 72h
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration usable without a config file, built from
// defaults plus environment overrides.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv lets environment variables override secrets, so they can stay
// out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("COURIER_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_SECRET"); v != "" {
		c.Webhook.SigningSecret = v
	}
	if v := os.Getenv("COURIER_FROM_EMAIL"); v != "" {
		c.Provider.FromEmail = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.resend.com"
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = 30 * time.Second
	}
	if c.Provider.FromName == "" {
		c.Provider.FromName = "Courier"
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "courier.db"
	}
	if c.Storage.EventsPath == "" {
		c.Storage.EventsPath = "courier_events.db"
	}

	if c.Retry.ClaimLimit == 0 {
		c.Retry.ClaimLimit = 15
	}
	if c.Retry.PollInterval == 0 {
		c.Retry.PollInterval = 30 * time.Second
	}

	if c.Bulk.SendDelay == 0 {
		c.Bulk.SendDelay = 120 * time.Millisecond
	}

	if c.Webhook.DedupMaxAge == 0 {
		c.Webhook.DedupMaxAge = 72 * time.Hour
	}
	if c.Webhook.CleanupInterval == 0 {
		c.Webhook.CleanupInterval = time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" && !c.Provider.Sandbox {
		return fmt.Errorf("provider.api_key is required (or set RESEND_API_KEY)")
	}
	if c.Provider.FromEmail == "" {
		return fmt.Errorf("provider.from_email is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}
