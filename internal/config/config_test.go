package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
  api_key: "secret"
provider:
  api_key: "re_live_key"
  from_email: "noreply@example.com"
  from_name: "Acme"
  timeout: 10s
retry:
  claim_limit: 5
  poll_interval: 1m
webhook:
  signing_secret: "whsec_abc"
  dedup_max_age: 24h
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %s", cfg.Server.ListenAddr)
	}
	if cfg.Provider.Timeout != 10*time.Second {
		t.Errorf("timeout = %s", cfg.Provider.Timeout)
	}
	if cfg.Retry.ClaimLimit != 5 || cfg.Retry.PollInterval != time.Minute {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Webhook.DedupMaxAge != 24*time.Hour {
		t.Errorf("dedup_max_age = %s", cfg.Webhook.DedupMaxAge)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
provider:
  api_key: "re_live_key"
  from_email: "noreply@example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %s", cfg.Server.ListenAddr)
	}
	if cfg.Provider.BaseURL != "https://api.resend.com" {
		t.Errorf("base_url = %s", cfg.Provider.BaseURL)
	}
	if cfg.Provider.Timeout != 30*time.Second {
		t.Errorf("timeout = %s", cfg.Provider.Timeout)
	}
	if cfg.Storage.DatabasePath != "courier.db" || cfg.Storage.EventsPath != "courier_events.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Retry.ClaimLimit != 15 || cfg.Retry.PollInterval != 30*time.Second {
		t.Errorf("retry = %+v", cfg.Retry)
	}
	if cfg.Bulk.SendDelay != 120*time.Millisecond {
		t.Errorf("bulk = %+v", cfg.Bulk)
	}
	if cfg.Webhook.DedupMaxAge != 72*time.Hour || cfg.Webhook.CleanupInterval != time.Hour {
		t.Errorf("webhook = %+v", cfg.Webhook)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COURIER_API_KEY", "env-api-key")
	t.Setenv("RESEND_API_KEY", "env-resend-key")
	t.Setenv("WEBHOOK_SIGNING_SECRET", "whsec_env")

	path := writeConfig(t, `
server:
  api_key: "file-api-key"
provider:
  api_key: "file-resend-key"
  from_email: "noreply@example.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.APIKey != "env-api-key" {
		t.Errorf("server api_key = %s", cfg.Server.APIKey)
	}
	if cfg.Provider.APIKey != "env-resend-key" {
		t.Errorf("provider api_key = %s", cfg.Provider.APIKey)
	}
	if cfg.Webhook.SigningSecret != "whsec_env" {
		t.Errorf("signing_secret = %s", cfg.Webhook.SigningSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Provider.APIKey = "re_key"
		c.Provider.FromEmail = "noreply@example.com"
		c.setDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing provider key", func(c *Config) { c.Provider.APIKey = "" }, "provider.api_key"},
		{"sandbox without key", func(c *Config) { c.Provider.APIKey = ""; c.Provider.Sandbox = true }, ""},
		{"missing from email", func(c *Config) { c.Provider.FromEmail = "" }, "provider.from_email"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
