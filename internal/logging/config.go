package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/clinicpulse/internal/config"
)

// TraceLevel sits below Debug. The controller logs per-iteration request
// detail at this level.
const TraceLevel = zapcore.DebugLevel - 1

// ParseLevel accepts the zap level names plus "trace".
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// Config controls how a Logger encodes, filters and ships entries.
type Config struct {
	Level     zapcore.Level
	Format    string
	Service   string
	Caller    bool
	Output    OutputConfig
	Sampling  SamplingConfig
	Redaction RedactionConfig
}

// OutputConfig selects sinks. Stderr replaces stdout for commands whose
// stdout carries protocol or transcript data.
type OutputConfig struct {
	Stdout bool
	Stderr bool
	OTEL   bool
}

// SamplingConfig thins entries below Error: per Tick, the first Initial
// identical messages pass, then every Thereafter-th one.
type SamplingConfig struct {
	Enabled    bool
	Tick       config.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig lists field names and value patterns masked by the
// console encoder.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// NewDefaultConfig returns JSON output on stdout with sampling and
// credential redaction on.
func NewDefaultConfig() *Config {
	return &Config{
		Level:   zapcore.InfoLevel,
		Format:  "json",
		Service: "clinicpulse",
		Caller:  true,
		Output:  OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields:  []string{"api_key", "authorization", "password", "secret", "token"},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// FromSettings applies the logging section of the application config to
// the defaults. Debug and trace runs disable sampling.
func FromSettings(level, format string) (*Config, error) {
	cfg := NewDefaultConfig()
	if level != "" {
		l, err := ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = l
	}
	if format != "" {
		cfg.Format = format
	}
	if cfg.Level <= zapcore.DebugLevel {
		cfg.Sampling.Enabled = false
	}
	return cfg, cfg.Validate()
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		errs = append(errs, errors.New("no output enabled"))
	}
	if c.Sampling.Enabled && (c.Sampling.Tick.Duration() <= 0 || c.Sampling.Initial <= 0) {
		errs = append(errs, errors.New("sampling needs a positive tick and initial count"))
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if _, err := regexp.Compile(p); err != nil {
				errs = append(errs, fmt.Errorf("redaction pattern %q: %w", p, err))
			}
		}
	}
	return errors.Join(errs...)
}
