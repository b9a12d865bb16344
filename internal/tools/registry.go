// Package tools is the dispatch surface generation steps use to call
// deterministic clinic operations.
//
// A failing tool never raises. Unknown names, bad arguments, handler errors
// and panics all come back as a Result with OK=false and Retryable=true so
// the caller can try again on a later iteration.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/clinicpulse/internal/tools"

// Tool errors.
var (
	ErrToolInvocation  = errors.New("tool invocation failed")
	ErrUnknownTool     = errors.New("unknown tool")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Handler executes a tool with validated arguments.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamObject ParamType = "object"
)

// Param describes one tool argument.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
}

// Definition is a registered tool.
type Definition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`

	// StateKey is where a successful result is side-written in session
	// state. Empty means the result is not persisted.
	StateKey string `json:"state_key,omitempty"`

	Handler Handler `json:"-"`
}

// Result is the outcome of one invocation.
type Result struct {
	Tool      string         `json:"tool"`
	OK        bool           `json:"ok"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`

	// Err carries the wrapped error for errors.Is checks.
	Err error `json:"-"`
}

// Registry holds tool definitions by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Definition
	logger *logging.Logger
	tracer trace.Tracer
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		tools:  make(map[string]*Definition),
		logger: logger.Named("tools"),
		tracer: otel.Tracer(instrumentationName),
	}
}

// Register adds a tool. Registering a name twice is an error.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	d := def
	r.tools[def.Name] = &d
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}
	return *d, true
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	defs := r.List()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Invoke runs a tool and converts every failure into a retryable Result.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) Result {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "tools.call", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	res := r.invoke(ctx, name, args)

	outcome := "success"
	if !res.OK {
		outcome = "error"
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Error)
		r.logger.Warn(ctx, "tool invocation failed",
			zap.String("tool", name),
			zap.Error(res.Err),
		)
	} else {
		r.logger.Step(ctx, "tool", "tool called", zap.String("tool", name))
	}
	CallsTotal.WithLabelValues(name, outcome).Inc()
	CallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	return res
}

func (r *Registry) invoke(ctx context.Context, name string, args map[string]any) Result {
	def, ok := r.Get(name)
	if !ok {
		return failure(name, fmt.Errorf("%w: %w: %q", ErrToolInvocation, ErrUnknownTool, name))
	}

	bound, err := bindArgs(def.Params, args)
	if err != nil {
		return failure(name, fmt.Errorf("%w: %s: %w", ErrToolInvocation, name, err))
	}

	out, err := safeCall(ctx, def.Handler, bound)
	if err != nil {
		return failure(name, fmt.Errorf("%w: %s: %w", ErrToolInvocation, name, err))
	}
	return Result{Tool: name, OK: true, Output: out}
}

// safeCall turns a handler panic into an error.
func safeCall(ctx context.Context, h Handler, args map[string]any) (out map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	out, err = h(ctx, args)
	if err == nil && out == nil {
		out = map[string]any{}
	}
	return out, err
}

// bindArgs checks required params and fills defaults. Unknown arguments
// pass through untouched.
func bindArgs(params []Param, args map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(args)+len(params))
	for k, v := range args {
		bound[k] = v
	}
	for _, p := range params {
		v, ok := bound[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: %s is required", ErrInvalidArgument, p.Name)
			}
			if p.Default != nil {
				bound[p.Name] = p.Default
			}
			continue
		}
		switch p.Type {
		case ParamString:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidArgument, p.Name)
			}
			if p.Required && s == "" {
				return nil, fmt.Errorf("%w: %s must not be empty", ErrInvalidArgument, p.Name)
			}
		case ParamObject:
			if _, ok := v.(map[string]any); !ok {
				return nil, fmt.Errorf("%w: %s must be an object", ErrInvalidArgument, p.Name)
			}
		}
	}
	return bound, nil
}

func failure(name string, err error) Result {
	return Result{Tool: name, Error: err.Error(), Retryable: true, Err: err}
}
