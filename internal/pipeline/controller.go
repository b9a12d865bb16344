package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/clinicpulse/internal/generation"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
	"github.com/fyrsmithlabs/clinicpulse/internal/validation"
)

// DefaultGenerationTimeout bounds one generation call.
const DefaultGenerationTimeout = 30 * time.Second

// Outcome is what one controller step did to one stage.
type Outcome struct {
	Stage     string         `json:"stage"`
	Iteration int            `json:"iteration"`
	Status    session.Status `json:"status"`

	// Generated is false when the step exhausted the stage without a call.
	Generated bool `json:"generated"`

	Validation validation.Result `json:"validation"`
	Diagnostic string            `json:"diagnostic,omitempty"`
	Reply      string            `json:"reply,omitempty"`
	ToolCalls  []tools.Result    `json:"tool_calls,omitempty"`
	Duration   time.Duration     `json:"duration"`

	// Err is the failed-iteration cause or ErrStageExhausted. Never fatal.
	Err error `json:"-"`
}

// Failed reports whether the generation call itself failed.
func (o Outcome) Failed() bool {
	return o.Err != nil && !errors.Is(o.Err, ErrStageExhausted)
}

// Controller runs bounded generate-then-validate iterations for one stage
// at a time. It holds no per-session data; callers serialise steps per
// session.
type Controller struct {
	gen     generation.Generator
	tools   *tools.Registry
	timeout time.Duration
	now     func() time.Time
	logger  *Logger
	metrics *Metrics
}

// NewController builds a controller. A nil registry gives stages no tools.
func NewController(gen generation.Generator, reg *tools.Registry, timeout time.Duration, logger *Logger, metrics *Metrics) *Controller {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &Controller{
		gen:     gen,
		tools:   reg,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// Step advances def by at most one generation call.
//
// A stage already at its cap becomes exhausted without a call. Otherwise
// the iteration count is incremented before generating, so a failed call
// still consumes an attempt. Exhaustion is eager: a running stage that
// has used its last attempt becomes exhausted in the same step.
func (c *Controller) Step(ctx context.Context, def Definition, sess *session.Session, message string) Outcome {
	run := sess.Run(def.Name)
	out := Outcome{Stage: def.Name, Iteration: run.Iterations, Status: run.Status, Diagnostic: run.Diagnostic}
	if run.Status.IsTerminal() {
		return out
	}

	ctx = logging.WithStage(ctx, def.Name)
	ctx, span := StartSpan(ctx, "pipeline.stage.step", sess.ID, def.Name)
	defer span.End()

	if run.Iterations >= def.MaxIterations {
		c.exhaust(ctx, def, run, &out)
		return out
	}

	if run.Status != session.StatusRunning {
		c.transition(ctx, run, session.StatusRunning)
	}
	run.Iterations++
	out.Iteration = run.Iterations
	span.SetAttributes(attribute.Int("pipeline.iteration", run.Iterations))

	staged := &stagedWrites{}
	req := generation.Request{
		Stage:        def.Name,
		Instructions: def.Instructions,
		OutputKey:    def.OutputKey,
		Requirements: def.Requirements,
		Iteration:    run.Iterations,
		Message:      message,
		History:      append([]session.Turn(nil), sess.Turns...),
		State:        sess.State.Snapshot(),
	}
	if def.Tools && c.tools != nil {
		req.Tools = c.tools.Bind(staged)
	}

	c.logger.IterationStarted(ctx, req)
	start := c.now()
	resp, err := c.generate(ctx, c.gen, req)
	out.Duration = c.now().Sub(start)
	out.Generated = true
	out.ToolCalls = resp.ToolCalls
	c.metrics.RecordIteration(ctx, def.Name, err != nil, out.Duration)

	if err != nil {
		// abandoned calls may still be running; their writes are dropped
		if errors.Is(err, ErrGenerationTimeout) {
			staged.discard()
		} else {
			staged.commit(sess.State)
		}
		RecordError(ctx, err)
		c.logger.GenerationFailed(ctx, def.Name, run.Iterations, err)
		out.Err = err
		out.Diagnostic = err.Error()
		out.Validation = validation.Validate(sess.State, def.OutputKey, def.Requirements)
	} else {
		staged.commit(sess.State)
		if resp.Value != nil {
			sess.State.Set(def.OutputKey, *resp.Value)
		}
		out.Reply = resp.Reply
		out.Validation = validation.Validate(sess.State, def.OutputKey, def.Requirements)
		out.Diagnostic = out.Validation.Diagnostic

		switch {
		case out.Validation.Escalate:
			c.transition(ctx, run, session.StatusEscalated)
			c.logger.StageEscalated(ctx, def.Name, run.Iterations)
		case resp.Pause && def.Pausable:
			c.transition(ctx, run, session.StatusPaused)
			out.Diagnostic = "waiting for external input"
			c.logger.StagePaused(ctx, def.Name, run.Iterations)
		case resp.Pause:
			out.Err = fmt.Errorf("%w: %s", ErrPauseNotAllowed, def.Name)
			out.Diagnostic = out.Err.Error()
		}
	}

	run.Diagnostic = out.Diagnostic
	run.UpdatedAt = c.now()

	if run.Status == session.StatusRunning && run.Iterations >= def.MaxIterations {
		c.exhaust(ctx, def, run, &out)
	}
	out.Status = run.Status

	if run.Status == session.StatusEscalated {
		SetSpanStatus(ctx, codes.Ok, "escalated")
	}
	c.logger.StageStepped(ctx, out)
	return out
}

// exhaust moves run to exhausted. The last diagnostic is kept.
func (c *Controller) exhaust(ctx context.Context, def Definition, run *session.StageRun, out *Outcome) {
	if run.Status != session.StatusRunning {
		c.transition(ctx, run, session.StatusRunning)
	}
	c.transition(ctx, run, session.StatusExhausted)
	if run.Diagnostic == "" {
		run.Diagnostic = validation.DiagnosticMissing
	}
	out.Status = run.Status
	out.Iteration = run.Iterations
	out.Diagnostic = run.Diagnostic
	if out.Err == nil {
		out.Err = ErrStageExhausted
	}
	c.logger.StageExhausted(ctx, def.Name, run.Iterations, run.Diagnostic)
}

func (c *Controller) transition(ctx context.Context, run *session.StageRun, target session.Status) {
	if err := run.Transition(target, c.now()); err != nil {
		// only reachable through a corrupt stored run
		c.logger.Error(ctx, "invalid stage transition", err)
		run.Status = target
	}
	c.metrics.RecordTransition(ctx, run.Stage, target)
}

// generate calls gen under the step timeout. A panic or a deadline is
// returned as an error; a generator that ignores ctx is abandoned.
func (c *Controller) generate(ctx context.Context, gen generation.Generator, req generation.Request) (generation.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		resp generation.Response
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrGenerationPanic, p)}
			}
		}()
		resp, err := gen.Generate(ctx, req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			return r.resp, fmt.Errorf("%w: %w", ErrGenerationTimeout, r.err)
		}
		return r.resp, r.err
	case <-ctx.Done():
		return generation.Response{}, fmt.Errorf("%w after %s: %w", ErrGenerationTimeout, c.timeout, ctx.Err())
	}
}

// stagedWrites buffers tool side-writes until the step decides whether to
// keep them.
type stagedWrites struct {
	mu     sync.Mutex
	closed bool
	keys   []string
	values map[string]session.Value
}

var _ tools.Writer = (*stagedWrites)(nil)

func (w *stagedWrites) Set(key string, value session.Value) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.values == nil {
		w.values = make(map[string]session.Value)
	}
	if _, ok := w.values[key]; !ok {
		w.keys = append(w.keys, key)
	}
	w.values[key] = value
}

func (w *stagedWrites) commit(dst *session.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for _, k := range w.keys {
		dst.Set(k, w.values[k])
	}
}

func (w *stagedWrites) discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}
