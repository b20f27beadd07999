package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("default read timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Tunables.PingInterval != 15*time.Second {
		t.Errorf("default ping interval = %v, want 15s", cfg.Tunables.PingInterval)
	}
	if cfg.Tunables.SessionTimeout != 45*time.Second {
		t.Errorf("default session timeout = %v, want 45s", cfg.Tunables.SessionTimeout)
	}
	if cfg.Tunables.LoadThreshold != 5 {
		t.Errorf("default load threshold = %d, want 5", cfg.Tunables.LoadThreshold)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should be enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func baseConfig() *Config {
	return DefaultConfig()
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "session timeout not greater than ping interval",
			mutate:  func(c *Config) { c.Tunables.SessionTimeout = c.Tunables.PingInterval },
			wantErr: true,
		},
		{
			name:    "zero load threshold",
			mutate:  func(c *Config) { c.Tunables.LoadThreshold = 0 },
			wantErr: true,
		},
		{
			name:    "max request timeout below default",
			mutate:  func(c *Config) { c.Tunables.MaxRequestTimeout = c.Tunables.DefaultRequestTimeout - time.Second },
			wantErr: true,
		},
		{
			name:    "platform fee rate at 1",
			mutate:  func(c *Config) { c.Tokenomics.PlatformFeeRate = 1.0 },
			wantErr: true,
		},
		{
			name:    "negative conversion rate",
			mutate:  func(c *Config) { c.Tokenomics.ConversionRates["small"] = -1 },
			wantErr: true,
		},
		{
			name: "database enabled without host",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Host = ""
			},
			wantErr: true,
		},
		{
			name: "cache enabled without redis addr",
			mutate: func(c *Config) {
				c.Cache.Enabled = true
				c.Cache.Redis.Addr = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  port: 9100
tunables:
  ping_interval: 20s
  session_timeout: 60s
  default_request_timeout: 90s
  max_request_timeout: 120s
  load_threshold: 8
database:
  enabled: true
  host: db.internal
  port: 5432
  user: broker
  database: llmule
  ssl_mode: require
`
	path := createTempFile(t, content)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("server.port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Tunables.PingInterval != 20*time.Second {
		t.Errorf("tunables.ping_interval = %v, want 20s", cfg.Tunables.PingInterval)
	}
	if cfg.Tunables.LoadThreshold != 8 {
		t.Errorf("tunables.load_threshold = %d, want 8", cfg.Tunables.LoadThreshold)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("database.host = %q, want db.internal", cfg.Database.Host)
	}
}

func TestLoadFromFile_ExpandsEnvVars(t *testing.T) {
	t.Setenv("BROKER_DB_PASSWORD", "s3cret")
	content := `
database:
  enabled: true
  host: db.internal
  user: broker
  database: llmule
  ssl_mode: require
  password: ${BROKER_DB_PASSWORD}
`
	path := createTempFile(t, content)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("database.password = %q, want s3cret", cfg.Database.Password)
	}
}

func TestLoadFromFile_InvalidConfigRejected(t *testing.T) {
	path := createTempFile(t, "server:\n  port: -1\n")
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected validation error for negative port")
	}
}

func TestLoad_IsAliasOfLoadFromFile(t *testing.T) {
	path := createTempFile(t, "server:\n  port: 8181\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("server.port = %d, want 8181", cfg.Server.Port)
	}
}

func createTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}
