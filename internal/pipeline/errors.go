package pipeline

import (
	"errors"

	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
	"github.com/fyrsmithlabs/clinicpulse/internal/validation"
)

// Soft validation failures, carried on Outcome.Validation.Reason.
var (
	ErrMissingState   = validation.ErrMissingState
	ErrMalformedState = validation.ErrMalformedState
)

// ErrToolInvocation marks failed tool results.
var ErrToolInvocation = tools.ErrToolInvocation

// Stage outcome errors. None of these escape the controller; they are
// recorded on the Outcome.
var (
	ErrStageExhausted    = errors.New("stage exhausted")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrGenerationPanic   = errors.New("generation panicked")
	ErrPauseNotAllowed   = errors.New("stage cannot pause")
)

// ErrConfiguration marks invalid pipeline construction. It is fatal
// before any tick runs.
var ErrConfiguration = errors.New("invalid pipeline configuration")

// ErrNoTools is returned by InvokeTool when no registry is configured.
var ErrNoTools = errors.New("no tool registry configured")
