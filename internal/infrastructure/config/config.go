package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all controller configuration.
type Config struct {
	Server    ServerConfig
	Binding   BindingConfig
	Sandbox   SandboxConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Manifest  ManifestConfig
	Tracing   TracingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// BindingConfig controls how guests install the binding.
type BindingConfig struct {
	Name            string        `envconfig:"BINDING_NAME" default:"bb"`
	InstallInterval time.Duration `envconfig:"BINDING_INSTALL_INTERVAL" default:"100ms"`
	MaxInstallTries int           `envconfig:"BINDING_MAX_INSTALL_TRIES" default:"300"`
}

// SandboxConfig bounds guest script execution.
type SandboxConfig struct {
	Timeout time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"5s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// ManifestConfig points at an optional startup manifest.
type ManifestConfig struct {
	Path string `envconfig:"MANIFEST_PATH"`
}

// TracingConfig controls request and session spans.
type TracingConfig struct {
	Enabled bool   `envconfig:"TRACING_ENABLED" default:"true"`
	Service string `envconfig:"TRACING_SERVICE" default:"guestbridge"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects values the bridge cannot run with.
func (c *Config) Validate() error {
	if c.Binding.Name == "" {
		return fmt.Errorf("invalid config: BINDING_NAME must not be empty")
	}
	if c.Binding.InstallInterval <= 0 {
		return fmt.Errorf("invalid config: BINDING_INSTALL_INTERVAL must be positive, got %s", c.Binding.InstallInterval)
	}
	if c.Binding.MaxInstallTries <= 0 {
		return fmt.Errorf("invalid config: BINDING_MAX_INSTALL_TRIES must be positive, got %d", c.Binding.MaxInstallTries)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("invalid config: SANDBOX_TIMEOUT must be positive, got %s", c.Sandbox.Timeout)
	}
	return nil
}

// Address returns host:port for the HTTP listener.
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Binding: BindingConfig{
			Name:            "bb",
			InstallInterval: 100 * time.Millisecond,
			MaxInstallTries: 300,
		},
		Sandbox: SandboxConfig{
			Timeout: 5 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Tracing: TracingConfig{
			Enabled: true,
			Service: "guestbridge",
		},
	}
}
