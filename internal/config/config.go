// Package config provides configuration loading for planforged.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. This package covers the HTTP server, database, completion
// provider, payments, eventing, and observability settings.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete planforged configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Completion    CompletionConfig    `koanf:"completion"`
	Payments      PaymentsConfig      `koanf:"payments"`
	Events        EventsConfig        `koanf:"events"`
	Generation    GenerationConfig    `koanf:"generation"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds persistence configuration. An empty DSN selects the
// in-memory store, which is only suitable for development and tests.
type DatabaseConfig struct {
	DSN Secret `koanf:"dsn"`
}

// CompletionConfig holds LLM provider configuration.
type CompletionConfig struct {
	Provider   string        `koanf:"provider"`
	APIKey     Secret        `koanf:"api_key"`
	Model      string        `koanf:"model"`
	BaseURL    string        `koanf:"base_url"`
	Timeout    time.Duration `koanf:"timeout"`
	RateLimit  float64       `koanf:"rate_limit"`
	Burst      int           `koanf:"burst"`
	MaxRetries int           `koanf:"max_retries"`
}

// PaymentsConfig holds payment processor configuration.
type PaymentsConfig struct {
	StripeAPIKey Secret `koanf:"stripe_api_key"`
	SuccessURL   string `koanf:"success_url"`
	CancelURL    string `koanf:"cancel_url"`
}

// EventsConfig holds NATS lifecycle event publishing configuration.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// GenerationConfig holds orchestrator tuning.
type GenerationConfig struct {
	SectionTimeout  time.Duration `koanf:"section_timeout"`
	MinSuccessRatio float64       `koanf:"min_success_ratio"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Completion.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("unknown completion provider: %q (must be anthropic or openai)", c.Completion.Provider)
	}
	if c.Completion.Timeout <= 0 {
		return errors.New("completion timeout must be positive")
	}

	if c.Generation.SectionTimeout <= 0 {
		return errors.New("section timeout must be positive")
	}
	if c.Generation.MinSuccessRatio < 0 || c.Generation.MinSuccessRatio > 1 {
		return fmt.Errorf("min success ratio must be in [0, 1], got %g", c.Generation.MinSuccessRatio)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events url required when event publishing is enabled")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Completion.Provider == "" {
		cfg.Completion.Provider = "anthropic"
	}
	if cfg.Completion.Timeout == 0 {
		cfg.Completion.Timeout = 2 * time.Minute
	}
	if cfg.Completion.RateLimit == 0 {
		cfg.Completion.RateLimit = 2.0
	}
	if cfg.Completion.Burst == 0 {
		cfg.Completion.Burst = 4
	}
	if cfg.Completion.MaxRetries == 0 {
		cfg.Completion.MaxRetries = 3
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://localhost:4222"
	}

	if cfg.Generation.SectionTimeout == 0 {
		cfg.Generation.SectionTimeout = 3 * time.Minute
	}
	if cfg.Generation.MinSuccessRatio == 0 {
		cfg.Generation.MinSuccessRatio = 0.5
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "planforged"
	}
}
