// Package generation defines the opaque generation capability a stage
// delegates to, plus its adapters.
//
// A Generator produces a candidate value for one stage iteration. It may
// call tools through Request.Tools, and it reports failure by returning an
// error: the retry loop treats every error as a failed iteration.
package generation

import (
	"context"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
	"github.com/fyrsmithlabs/clinicpulse/internal/validation"
)

// Request is everything a generation step sees for one iteration.
type Request struct {
	Stage        string
	Instructions string
	OutputKey    string
	Requirements validation.Requirements

	// Iteration is 1-based and counts across ticks.
	Iteration int

	Message string
	History []session.Turn

	// State is a read-only view taken before the step runs.
	State session.Snapshot

	// Tools is nil when the stage has no tool access.
	Tools tools.Caller
}

// Response is the step's outcome.
type Response struct {
	// Value is written under the stage's output key. Nil writes nothing.
	Value *session.Value

	// Pause asks to wait for external input. Honoured only on pausable
	// stages.
	Pause bool

	// Reply is conversational text for the user.
	Reply string

	// ToolCalls records tools the step invoked.
	ToolCalls []tools.Result
}

// Generator produces stage output.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req Request) (Response, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Structured is a convenience for building a Response holding a
// structured value.
func Structured(fields map[string]any) Response {
	v := session.Structured(fields)
	return Response{Value: &v}
}

// FreeText is a convenience for building a Response holding free text.
func FreeText(text string) Response {
	v := session.FreeText(text)
	return Response{Value: &v, Reply: text}
}

// Router dispatches by stage name, falling back to Default.
type Router struct {
	Default Generator
	Stages  map[string]Generator
}

// Generate routes the request.
func (r *Router) Generate(ctx context.Context, req Request) (Response, error) {
	if g, ok := r.Stages[req.Stage]; ok && g != nil {
		return g.Generate(ctx, req)
	}
	if r.Default == nil {
		return Response{}, ErrNoGenerator
	}
	return r.Default.Generate(ctx, req)
}
