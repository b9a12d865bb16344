package tools

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// Writer receives side-written tool results.
type Writer interface {
	Set(key string, value session.Value)
}

// Caller is the tool surface handed to a generation step.
type Caller interface {
	Call(ctx context.Context, name string, args map[string]any) Result
	Definitions() []Definition
}

// Invoker is a Registry bound to one session's state. Successful results
// are written under the tool's StateKey without validation.
type Invoker struct {
	reg   *Registry
	state Writer

	mu    sync.Mutex
	calls []Result
}

var _ Caller = (*Invoker)(nil)

// Bind returns an invoker that side-writes into state. A nil state skips
// the side-write.
func (r *Registry) Bind(state Writer) *Invoker {
	return &Invoker{reg: r, state: state}
}

// Call invokes the tool and records the result.
func (i *Invoker) Call(ctx context.Context, name string, args map[string]any) Result {
	res := i.reg.Invoke(ctx, name, args)
	if res.OK && i.state != nil {
		if def, ok := i.reg.Get(name); ok && def.StateKey != "" {
			i.state.Set(def.StateKey, session.Structured(res.Output))
		}
	}
	i.mu.Lock()
	i.calls = append(i.calls, res)
	i.mu.Unlock()
	return res
}

// Definitions lists the tools available through this invoker.
func (i *Invoker) Definitions() []Definition {
	return i.reg.List()
}

// Calls returns the results of every call made through this invoker.
func (i *Invoker) Calls() []Result {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Result(nil), i.calls...)
}
