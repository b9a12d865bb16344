package pipeline

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/clinicpulse/internal/config"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/validation"
)

// Fallthrough decides what a tick does after a stage turns terminal.
type Fallthrough string

const (
	// StrictAbort stops the tick when the stage becomes terminal. An
	// exhausted strict stage aborts the pipeline for the session.
	StrictAbort Fallthrough = config.FallthroughStrictAbort

	// SoftContinue moves on to the next stage within the same tick.
	SoftContinue Fallthrough = config.FallthroughSoftContinue
)

// Valid reports whether f is a known policy.
func (f Fallthrough) Valid() bool {
	return f == StrictAbort || f == SoftContinue
}

// Trigger gates a conditional stage on current state.
type Trigger func(state session.Snapshot) bool

// Definition describes one stage. Definitions are immutable once the
// orchestrator is built.
type Definition struct {
	Name         string
	OutputKey    string
	Requirements validation.Requirements

	// MaxIterations caps generation calls over the session lifetime.
	MaxIterations int

	// Trigger is nil for unconditional stages.
	Trigger Trigger

	Instructions string

	// Silent suppresses the generator's reply in the tick response.
	// Cues and status lines are always shown.
	Silent bool

	Fallthrough Fallthrough

	// Pausable stages may answer "waiting for external input".
	Pausable bool

	// Cue is appended to the response when the stage escalates.
	Cue string

	// Tools grants the stage access to the tool registry.
	Tools bool
}

// Conditional reports whether the stage has a trigger.
func (d Definition) Conditional() bool {
	return d.Trigger != nil
}

// ValidateDefinitions checks names, keys, caps and policies.
func ValidateDefinitions(defs []Definition) error {
	if len(defs) == 0 {
		return fmt.Errorf("%w: at least one stage is required", ErrConfiguration)
	}
	var errs []error
	names := make(map[string]bool, len(defs))
	keys := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%w: stage %d has no name", ErrConfiguration, i))
			continue
		}
		if err := session.ValidateID(d.Name); err != nil {
			errs = append(errs, fmt.Errorf("%w: stage name: %v", ErrConfiguration, err))
			continue
		}
		if names[d.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate stage %q", ErrConfiguration, d.Name))
		}
		names[d.Name] = true

		if d.OutputKey == "" {
			errs = append(errs, fmt.Errorf("%w: stage %q has no output key", ErrConfiguration, d.Name))
		} else if keys[d.OutputKey] {
			errs = append(errs, fmt.Errorf("%w: output key %q used twice", ErrConfiguration, d.OutputKey))
		}
		keys[d.OutputKey] = true

		if d.MaxIterations < 1 {
			errs = append(errs, fmt.Errorf("%w: stage %q max iterations must be >= 1", ErrConfiguration, d.Name))
		}
		if !d.Fallthrough.Valid() {
			errs = append(errs, fmt.Errorf("%w: stage %q has unknown fallthrough %q", ErrConfiguration, d.Name, d.Fallthrough))
		}
	}
	return errors.Join(errs...)
}

// ApplyOverrides returns a copy of defs with per-stage config overrides
// applied. Overrides for unknown stages are rejected.
func ApplyOverrides(defs []Definition, overrides map[string]config.StageOverride) ([]Definition, error) {
	out := make([]Definition, len(defs))
	copy(out, defs)

	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Name] = i
	}

	for name, o := range overrides {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: override for unknown stage %q", ErrConfiguration, name)
		}
		if o.MaxIterations > 0 {
			out[i].MaxIterations = o.MaxIterations
		}
		if o.Fallthrough != "" {
			out[i].Fallthrough = Fallthrough(o.Fallthrough)
		}
		if o.Silent != nil {
			out[i].Silent = *o.Silent
		}
	}
	return out, ValidateDefinitions(out)
}
