// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete broker configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tunables   TunablesConfig   `yaml:"tunables"`
	Tokenomics TokenomicsConfig `yaml:"tokenomics"`
	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Auth       AuthConfig       `yaml:"auth"`
}

// ServerConfig contains HTTP server settings shared by the client-facing
// REST API and the provider websocket upgrade endpoint.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// TrustedProxyCIDRs lists the reverse proxies allowed to set
	// X-Forwarded-For/X-Real-IP/Forwarded when deriving a client's
	// rate-limit identity. Empty means no proxy is trusted; the
	// immediate peer address is always used.
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`
}

// TunablesConfig holds the session and dispatch timing constants the
// broker spec documents as environment-configurable.
type TunablesConfig struct {
	PingInterval          time.Duration `yaml:"ping_interval"`           // T_ping
	SessionTimeout        time.Duration `yaml:"session_timeout"`         // T_timeout
	DefaultRequestTimeout time.Duration `yaml:"default_request_timeout"` // T_req
	MaxRequestTimeout     time.Duration `yaml:"max_request_timeout"`
	LoadThreshold         int64         `yaml:"load_threshold"` // per-provider in-flight hard cap
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"` // broker-wide Route() admission cap, 0 disables

	RateLimitRPM   int `yaml:"rate_limit_rpm"`   // per-tenant requests/minute over the REST surface
	RateLimitBurst int `yaml:"rate_limit_burst"` // per-tenant token bucket burst
}

// TokenomicsConfig mirrors the closed enumeration the tokenomics package
// treats as compile-time constants. It is loaded for visibility and its
// values are range-checked by Validate; it is neither compared against
// nor used to override the compiled values, since the conversion table is
// part of the broker's published contract with providers and consumers.
type TokenomicsConfig struct {
	Decimals        int              `yaml:"decimals"`
	WelcomeAmount   float64          `yaml:"welcome_amount"`
	PlatformFeeRate float64          `yaml:"platform_fee_rate"`
	ConversionRates map[string]int64 `yaml:"conversion_rates"` // tier name -> tokens per Mule
}

// DatabaseConfig contains PostgreSQL connection settings for the Ledger
// Gateway and the account store.
type DatabaseConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	SSLMode      string        `yaml:"ssl_mode"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// CacheConfig contains Redis settings for idempotency keys. Rate limiting
// is process-local and does not use Redis.
type CacheConfig struct {
	Enabled bool             `yaml:"enabled"`
	Redis   RedisCacheConfig `yaml:"redis"`
}

// RedisCacheConfig contains Redis connection settings.
type RedisCacheConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AuthConfig contains authentication middleware settings.
type AuthConfig struct {
	Enabled                bool          `yaml:"enabled"`
	HeaderName             string        `yaml:"header_name"` // default: Authorization
	SkipPaths              []string      `yaml:"skip_paths"`  // e.g. /healthz, /metrics
	LastUsedUpdateInterval time.Duration `yaml:"last_used_update_interval"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Tunables: TunablesConfig{
			PingInterval:          15 * time.Second,
			SessionTimeout:        45 * time.Second,
			DefaultRequestTimeout: 180 * time.Second,
			MaxRequestTimeout:     300 * time.Second,
			LoadThreshold:         5,
			MaxConcurrentRequests: 512,
			RateLimitRPM:          600,
			RateLimitBurst:        20,
		},
		Tokenomics: TokenomicsConfig{
			Decimals:        6,
			WelcomeAmount:   1.0,
			PlatformFeeRate: 0.10,
			ConversionRates: map[string]int64{
				"small":  1_000_000,
				"medium": 500_000,
				"large":  250_000,
				"xl":     125_000,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Auth: AuthConfig{
			Enabled:                true,
			HeaderName:             "Authorization",
			SkipPaths:              []string{"/healthz", "/metrics"},
			LastUsedUpdateInterval: time.Minute,
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "llmule",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled: false,
			Redis: RedisCacheConfig{
				Addr:         "localhost:6379",
				DB:           0,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PoolSize:     10,
				MinIdleConns: 2,
				MaxRetries:   3,
			},
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Load is the package's public entry point: read path, overlay
// environment variables, and validate.
func Load(path string) (*Config, error) {
	return LoadFromFile(path)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Tunables.PingInterval <= 0 {
		return fmt.Errorf("tunables.ping_interval must be positive")
	}
	if c.Tunables.SessionTimeout <= c.Tunables.PingInterval {
		return fmt.Errorf("tunables.session_timeout must exceed tunables.ping_interval")
	}
	if c.Tunables.DefaultRequestTimeout <= 0 {
		return fmt.Errorf("tunables.default_request_timeout must be positive")
	}
	if c.Tunables.MaxRequestTimeout < c.Tunables.DefaultRequestTimeout {
		return fmt.Errorf("tunables.max_request_timeout cannot be less than default_request_timeout")
	}
	if c.Tunables.LoadThreshold <= 0 {
		return fmt.Errorf("tunables.load_threshold must be positive")
	}

	if c.Tokenomics.Decimals <= 0 {
		return fmt.Errorf("tokenomics.decimals must be positive")
	}
	if c.Tokenomics.PlatformFeeRate < 0 || c.Tokenomics.PlatformFeeRate >= 1 {
		return fmt.Errorf("tokenomics.platform_fee_rate must be in [0, 1)")
	}
	for tier, rate := range c.Tokenomics.ConversionRates {
		if rate <= 0 {
			return fmt.Errorf("tokenomics.conversion_rates[%s] must be positive", tier)
		}
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when database is enabled")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database.port must be between 1 and 65535")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when database is enabled")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required when database is enabled")
		}
		if c.Database.SSLMode == "" {
			return fmt.Errorf("database.ssl_mode is required when database is enabled")
		}
		if c.Database.MaxOpenConns < 0 {
			return fmt.Errorf("database.max_open_conns cannot be negative")
		}
		if c.Database.MaxIdleConns < 0 {
			return fmt.Errorf("database.max_idle_conns cannot be negative")
		}
		if c.Database.ConnLifetime < 0 {
			return fmt.Errorf("database.conn_lifetime cannot be negative")
		}
	}

	if c.Cache.Enabled && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when cache is enabled")
	}

	return nil
}
