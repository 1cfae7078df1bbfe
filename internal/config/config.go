package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/hookcron/internal/ipfilter"
)

// Environment variables that override secrets from the file
const (
	EnvTriggerToken  = "HOOKCRON_TRIGGER_TOKEN"
	EnvSigningSecret = "HOOKCRON_SIGNING_SECRET"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Runner    RunnerConfig    `yaml:"runner"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	RateLimit RateLimitConfig `yaml:"rate_limit"` // Per API key request limits
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains certificate paths for the API listener
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig selects the job store
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, bolt
	Path   string `yaml:"path"`
}

// AuthConfig contains API credentials
type AuthConfig struct {
	// TriggerToken is the shared secret expected in X-Auth-Token by the
	// trigger endpoint
	TriggerToken string `yaml:"trigger_token"`
	// TriggerAllowedIPs limits the trigger endpoint to these addresses or
	// CIDRs. Empty allows every client.
	TriggerAllowedIPs []string `yaml:"trigger_allowed_ips"`
	APIKeys           []APIKey `yaml:"api_keys"`
}

// APIKey maps a key to the owner name its jobs are stored under
type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// RunnerConfig contains sweep settings
type RunnerConfig struct {
	Concurrency int `yaml:"concurrency"`
	// AdvanceOnFailure defaults to true when unset
	AdvanceOnFailure *bool `yaml:"advance_on_failure"`
	BuiltinTicker    bool  `yaml:"builtin_ticker"`

	// Fire history retention, 0 keeps every fire
	FireRetention   time.Duration `yaml:"fire_retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // Default: 1h
}

// DeliveryConfig contains outbound webhook settings
type DeliveryConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	UserAgent     string        `yaml:"user_agent"`
	SigningSecret string        `yaml:"signing_secret"`
	RatePerSecond float64       `yaml:"rate_per_second"` // 0 = unlimited
	Burst         int           `yaml:"burst"`
}

// RateLimitConfig contains API request limits applied per key
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 30s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
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

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvTriggerToken); v != "" {
		c.Auth.TriggerToken = v
	}
	if v := os.Getenv(EnvSigningSecret); v != "" {
		c.Delivery.SigningSecret = v
	}
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// A trigger request waits for every delivery of the sweep
		c.Server.WriteTimeout = 2 * time.Minute
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20 // 1 MB
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/hookcron/hookcron.db"
	}

	if c.Runner.Concurrency == 0 {
		c.Runner.Concurrency = 8
	}
	if c.Runner.AdvanceOnFailure == nil {
		advance := true
		c.Runner.AdvanceOnFailure = &advance
	}
	if c.Runner.FireRetention > 0 && c.Runner.CleanupInterval == 0 {
		c.Runner.CleanupInterval = time.Hour
	}

	if c.Delivery.Timeout == 0 {
		c.Delivery.Timeout = 10 * time.Second
	}
	if c.Delivery.UserAgent == "" {
		c.Delivery.UserAgent = "hookcron/1.0"
	}
	if c.Delivery.RatePerSecond > 0 && c.Delivery.Burst == 0 {
		c.Delivery.Burst = 1
	}

	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Auth.TriggerToken == "" {
		return fmt.Errorf("auth.trigger_token is required (or set %s)", EnvTriggerToken)
	}

	names := make(map[string]bool)
	keys := make(map[string]bool)
	for i, k := range c.Auth.APIKeys {
		if k.Name == "" {
			return fmt.Errorf("auth.api_keys[%d].name is required", i)
		}
		if k.Key == "" {
			return fmt.Errorf("auth.api_keys[%d].key is required", i)
		}
		if names[k.Name] {
			return fmt.Errorf("duplicate api key name: %s", k.Name)
		}
		if keys[k.Key] {
			return fmt.Errorf("duplicate api key for %s", k.Name)
		}
		names[k.Name] = true
		keys[k.Key] = true
	}

	if _, err := ipfilter.Parse(c.Auth.TriggerAllowedIPs); err != nil {
		return fmt.Errorf("invalid auth.trigger_allowed_ips: %w", err)
	}
	if _, err := ipfilter.Parse(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("invalid metrics.allowed_ips: %w", err)
	}

	validDrivers := map[string]bool{"sqlite": true, "bolt": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database.driver: %s (must be sqlite or bolt)", c.Database.Driver)
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls.cert_file and server.tls.key_file are required when TLS is enabled")
	}

	if c.Runner.Concurrency < 0 {
		return fmt.Errorf("runner.concurrency must not be negative")
	}
	if c.Runner.FireRetention < 0 || c.Runner.CleanupInterval < 0 {
		return fmt.Errorf("runner.fire_retention and runner.cleanup_interval must not be negative")
	}
	if c.Delivery.Timeout < 0 {
		return fmt.Errorf("delivery.timeout must not be negative")
	}
	if c.Delivery.RatePerSecond < 0 {
		return fmt.Errorf("delivery.rate_per_second must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// AdvanceOnFailure reports whether failed deliveries still advance job state
func (c *Config) AdvanceOnFailure() bool {
	return c.Runner.AdvanceOnFailure == nil || *c.Runner.AdvanceOnFailure
}

// Redacted returns a copy with secrets masked, for display
func (c *Config) Redacted() *Config {
	out := *c
	out.Auth.TriggerToken = mask(c.Auth.TriggerToken)
	out.Delivery.SigningSecret = mask(c.Delivery.SigningSecret)
	out.Auth.APIKeys = make([]APIKey, len(c.Auth.APIKeys))
	for i, k := range c.Auth.APIKeys {
		out.Auth.APIKeys[i] = APIKey{Name: k.Name, Key: mask(k.Key)}
	}
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
