// Package config provides configuration loading for ClinicPulse.
//
// A Config is built once at startup (defaults, then YAML file, then
// environment) and passed down by pointer. Nothing reads the environment
// after Load returns.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig marks every validation failure. Invalid configuration is
// fatal before any message is processed.
var ErrInvalidConfig = errors.New("invalid configuration")

// Fallthrough policy names accepted in stage overrides.
const (
	FallthroughStrictAbort  = "strict-abort"
	FallthroughSoftContinue = "soft-continue"
)

// Generation providers.
const (
	ProviderRules  = "rules"
	ProviderOpenAI = "openai"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNATS   = "nats"
)

// Config holds the complete ClinicPulse configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server" yaml:"server"`
	Pipeline   PipelineConfig   `koanf:"pipeline" yaml:"pipeline"`
	Generation GenerationConfig `koanf:"generation" yaml:"generation"`
	Store      StoreConfig      `koanf:"store" yaml:"store"`
	NATS       NATSConfig       `koanf:"nats" yaml:"nats"`
	Events     EventsConfig     `koanf:"events" yaml:"events"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry" yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host" yaml:"http_host"`
	Port            int      `koanf:"http_port" yaml:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// PipelineConfig tunes the staged conversation pipeline.
type PipelineConfig struct {
	// GenerationTimeout bounds a single generation call. A timeout counts
	// as a failed iteration.
	GenerationTimeout Duration `koanf:"generation_timeout" yaml:"generation_timeout"`

	// FinalOutputKey is surfaced when every stage is done. Empty means the
	// last stage's output key.
	FinalOutputKey string `koanf:"final_output_key" yaml:"final_output_key"`

	// Stages overrides per-stage settings by stage name.
	Stages map[string]StageOverride `koanf:"stages" yaml:"stages,omitempty"`
}

// StageOverride replaces built-in stage settings. Zero values keep the
// built-in setting.
type StageOverride struct {
	MaxIterations int    `koanf:"max_iterations" yaml:"max_iterations,omitempty"`
	Fallthrough   string `koanf:"fallthrough" yaml:"fallthrough,omitempty"`
	Silent        *bool  `koanf:"silent" yaml:"silent,omitempty"`
}

// GenerationConfig selects and configures the text generation backend.
type GenerationConfig struct {
	Provider          string   `koanf:"provider" yaml:"provider"`
	BaseURL           string   `koanf:"base_url" yaml:"base_url,omitempty"`
	APIKey            Secret   `koanf:"api_key" yaml:"api_key,omitempty"`
	WorkerModel       string   `koanf:"worker_model" yaml:"worker_model"`
	CriticModel       string   `koanf:"critic_model" yaml:"critic_model"`
	Temperature       float64  `koanf:"temperature" yaml:"temperature"`
	MaxTokens         int      `koanf:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute float64  `koanf:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int      `koanf:"burst" yaml:"burst"`
	MaxRetries        int      `koanf:"max_retries" yaml:"max_retries"`
	RetryBackoff      Duration `koanf:"retry_backoff" yaml:"retry_backoff"`
	HistoryTokens     int      `koanf:"history_tokens" yaml:"history_tokens"`
	MaxToolRounds     int      `koanf:"max_tool_rounds" yaml:"max_tool_rounds"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	Backend    string `koanf:"backend" yaml:"backend"`
	SQLitePath string `koanf:"sqlite_path" yaml:"sqlite_path,omitempty"`
	NATSBucket string `koanf:"nats_bucket" yaml:"nats_bucket,omitempty"`
}

// NATSConfig holds the broker connection used by the NATS store and events.
type NATSConfig struct {
	URL string `koanf:"url" yaml:"url,omitempty"`
}

// EventsConfig controls stage transition publishing.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled" yaml:"enabled"`
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix"`
}

// LoggingConfig holds the log settings read from file and environment.
type LoggingConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled" yaml:"enabled"`
	Endpoint    string  `koanf:"endpoint" yaml:"endpoint"`
	Protocol    string  `koanf:"protocol" yaml:"protocol"`
	ServiceName string  `koanf:"service_name" yaml:"service_name"`
	Insecure    bool    `koanf:"insecure" yaml:"insecure"`
	SampleRate  float64 `koanf:"sample_rate" yaml:"sample_rate"`
}

// Default returns a configuration with every default applied. It runs
// the rules-based generator against an in-memory store.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration. Every problem is reported, each
// wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		fail("shutdown timeout must be positive")
	}

	if c.Pipeline.GenerationTimeout.Duration() <= 0 {
		fail("pipeline.generation_timeout must be positive")
	}
	for name, o := range c.Pipeline.Stages {
		if o.MaxIterations < 0 {
			fail("pipeline.stages.%s.max_iterations must be >= 1 when set", name)
		}
		switch o.Fallthrough {
		case "", FallthroughStrictAbort, FallthroughSoftContinue:
		default:
			fail("pipeline.stages.%s.fallthrough must be %q or %q, got %q", name, FallthroughStrictAbort, FallthroughSoftContinue, o.Fallthrough)
		}
	}

	switch c.Generation.Provider {
	case ProviderRules:
	case ProviderOpenAI:
		if c.Generation.WorkerModel == "" {
			fail("generation.worker_model is required for provider %q", ProviderOpenAI)
		}
		if !c.Generation.APIKey.IsSet() && c.Generation.BaseURL == "" {
			fail("generation.api_key or generation.base_url is required for provider %q", ProviderOpenAI)
		}
	default:
		fail("generation.provider must be %q or %q, got %q", ProviderRules, ProviderOpenAI, c.Generation.Provider)
	}
	if c.Generation.RequestsPerMinute <= 0 {
		fail("generation.requests_per_minute must be positive")
	}
	if c.Generation.Burst < 1 {
		fail("generation.burst must be >= 1")
	}
	if c.Generation.MaxRetries < 0 {
		fail("generation.max_retries must be >= 0")
	}
	if c.Generation.HistoryTokens <= 0 {
		fail("generation.history_tokens must be positive")
	}
	if c.Generation.MaxToolRounds < 1 {
		fail("generation.max_tool_rounds must be >= 1")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			fail("store.sqlite_path is required for backend %q", BackendSQLite)
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			fail("nats.url is required for backend %q", BackendNATS)
		}
	default:
		fail("store.backend must be one of memory, sqlite, nats; got %q", c.Store.Backend)
	}

	if c.Events.Enabled && c.NATS.URL == "" {
		fail("nats.url is required when events are enabled")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		fail("logging.level must be trace, debug, info, warn or error; got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		fail("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf", "stdout":
		default:
			fail("telemetry.protocol must be grpc, http/protobuf or stdout; got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.ServiceName == "" {
			fail("service name required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			fail("telemetry.sample_rate must be between 0 and 1")
		}
	}

	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	// Pipeline defaults
	if cfg.Pipeline.GenerationTimeout == 0 {
		cfg.Pipeline.GenerationTimeout = Duration(30 * time.Second)
	}

	// Generation defaults
	g := &cfg.Generation
	if g.Provider == "" {
		g.Provider = ProviderRules
	}
	if g.WorkerModel == "" && g.Provider == ProviderOpenAI {
		g.WorkerModel = "gpt-4o-mini"
	}
	if g.CriticModel == "" {
		g.CriticModel = g.WorkerModel
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = 1024
	}
	if g.RequestsPerMinute == 0 {
		g.RequestsPerMinute = 50
	}
	if g.Burst == 0 {
		g.Burst = 5
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 3
	}
	if g.RetryBackoff == 0 {
		g.RetryBackoff = Duration(time.Second)
	}
	if g.HistoryTokens == 0 {
		g.HistoryTokens = 4000
	}
	if g.MaxToolRounds == 0 {
		g.MaxToolRounds = 4
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if cfg.Store.NATSBucket == "" {
		cfg.Store.NATSBucket = "clinicpulse_sessions"
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "clinicpulse"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "clinicpulse"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}
