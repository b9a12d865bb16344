package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/config"
	"github.com/fyrsmithlabs/clinicpulse/internal/generation"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

// CoordinatorStage names the top-level generation step in requests and
// logs.
const CoordinatorStage = "coordinator"

// TickResult is the outcome of one inbound message.
type TickResult struct {
	SessionID string    `json:"session_id"`
	Response  string    `json:"response"`
	Steps     []Outcome `json:"steps"`

	Complete     bool   `json:"complete"`
	Aborted      bool   `json:"aborted"`
	AbortedStage string `json:"aborted_stage,omitempty"`

	// FinalOutput is set once the pipeline is complete.
	FinalOutput *session.Value `json:"final_output,omitempty"`

	// FinalOutputIncomplete marks a final output whose stage exhausted
	// without passing validation.
	FinalOutputIncomplete bool `json:"final_output_incomplete,omitempty"`

	// Exhausted lists every exhausted stage in pipeline order.
	Exhausted []string `json:"exhausted,omitempty"`
}

// Orchestrator sequences stages over persisted sessions, one controller
// step per stage per tick.
type Orchestrator struct {
	stages      []Definition
	index       map[string]int
	store       session.Store
	locker      *session.Locker
	controller  *Controller
	tools       *tools.Registry
	coordinator generation.Generator
	publisher   Publisher
	finalKey    string
	timeout     time.Duration
	now         func() time.Time
	baseLogger  *logging.Logger
	logger      *Logger
	metrics     *Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTools gives tool-enabled stages, the coordinator and InvokeTool
// access to reg.
func WithTools(reg *tools.Registry) Option {
	return func(o *Orchestrator) { o.tools = reg }
}

// WithCoordinator runs g before the stage scan on every tick. Its reply is
// always shown; it writes state only through tools.
func WithCoordinator(g generation.Generator) Option {
	return func(o *Orchestrator) { o.coordinator = g }
}

// WithPublisher publishes stage events after each saved tick.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithFinalOutputKey overrides the key surfaced on completion.
func WithFinalOutputKey(key string) Option {
	return func(o *Orchestrator) { o.finalKey = key }
}

// WithGenerationTimeout bounds each generation call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the base logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.baseLogger = l }
}

// WithMetrics sets the OTEL instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// FromConfig maps the pipeline config section to options.
func FromConfig(cfg config.PipelineConfig) []Option {
	opts := []Option{WithGenerationTimeout(cfg.GenerationTimeout.Duration())}
	if cfg.FinalOutputKey != "" {
		opts = append(opts, WithFinalOutputKey(cfg.FinalOutputKey))
	}
	return opts
}

// New validates stages and builds the orchestrator.
func New(stages []Definition, gen generation.Generator, store session.Store, opts ...Option) (*Orchestrator, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: generator is required", ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: session store is required", ErrConfiguration)
	}
	if err := ValidateDefinitions(stages); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		stages: append([]Definition(nil), stages...),
		index:  make(map[string]int, len(stages)),
		store:  store,
		locker: session.NewLocker(),
		now:    time.Now,
	}
	for i, d := range o.stages {
		o.index[d.Name] = i
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.finalKey == "" {
		o.finalKey = o.stages[len(o.stages)-1].OutputKey
	}
	if o.metrics == nil {
		m, err := NewMetrics(nil)
		if err != nil {
			return nil, fmt.Errorf("creating pipeline metrics: %w", err)
		}
		o.metrics = m
	}
	o.logger = NewLogger(o.baseLogger)
	o.controller = NewController(gen, o.tools, o.timeout, o.logger, o.metrics)
	o.controller.now = o.now
	return o, nil
}

// Stages returns the stage definitions in order.
func (o *Orchestrator) Stages() []Definition {
	return append([]Definition(nil), o.stages...)
}

// FinalOutputKey returns the key surfaced on completion.
func (o *Orchestrator) FinalOutputKey() string {
	return o.finalKey
}

// Tick processes one inbound message for a session. Only store failures
// and invalid ids are returned as errors; stage failures are reported in
// the result.
func (o *Orchestrator) Tick(ctx context.Context, sessionID, message string) (*TickResult, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return nil, err
	}
	unlock := o.locker.Lock(sessionID)
	defer unlock()

	start := o.now()
	ctx = logging.WithSessionID(ctx, sessionID)
	ctx, span := StartSpan(ctx, "pipeline.tick", sessionID, "")
	defer span.End()

	sess, err := o.load(ctx, sessionID)
	if err != nil {
		RecordError(ctx, err)
		SetSpanStatus(ctx, codes.Error, "load failed")
		return nil, err
	}
	ctx = o.withPatient(ctx, sess)
	o.logger.TickStarted(ctx, len(sess.Turns)+1)

	_, wasAborted := o.scan(sess)
	wasDone := o.isComplete(sess)

	var coordinatorReply string
	if o.coordinator != nil && !wasDone && wasAborted == "" {
		coordinatorReply = o.coordinate(ctx, sess, message)
	}

	res := &TickResult{SessionID: sessionID}
	res.Steps = o.advance(ctx, sess, message)

	next, aborted := o.scan(sess)
	res.Aborted = aborted != ""
	res.AbortedStage = aborted
	res.Complete = !res.Aborted && next < 0
	res.Exhausted = o.exhausted(sess)
	if res.Complete {
		if v, ok := sess.State.Get(o.finalKey); ok {
			res.FinalOutput = &v
			res.FinalOutputIncomplete = o.finalExhausted(sess)
		}
	}
	res.Response = o.compose(coordinatorReply, res, sess)

	sess.AddTurn(message, res.Response, o.now())
	if err := o.store.Save(ctx, sess); err != nil {
		RecordError(ctx, err)
		SetSpanStatus(ctx, codes.Error, "save failed")
		return nil, fmt.Errorf("saving session %s: %w", sessionID, err)
	}

	finished := (res.Complete && !wasDone) || (res.Aborted && wasAborted == "")
	o.publish(ctx, sess, res, finished)

	span.SetAttributes(
		attribute.Int("pipeline.steps", len(res.Steps)),
		attribute.Bool("pipeline.complete", res.Complete),
		attribute.Bool("pipeline.aborted", res.Aborted),
	)
	duration := o.now().Sub(start)
	o.metrics.RecordTick(ctx, res.Complete, res.Aborted, duration)
	switch {
	case res.Complete && !wasDone:
		o.metrics.RecordFinished(ctx, "complete")
		o.logger.PipelineComplete(ctx, res.Exhausted, duration)
	case res.Aborted && wasAborted == "":
		o.metrics.RecordFinished(ctx, "aborted")
		o.logger.PipelineAborted(ctx, aborted)
	}
	return res, nil
}

// advance steps stages until one stays non-terminal, a strict stage turns
// terminal, or nothing runnable remains. Each pass re-scans from the top
// so a conditional stage whose trigger just became true runs in order.
func (o *Orchestrator) advance(ctx context.Context, sess *session.Session, message string) []Outcome {
	var steps []Outcome
	for {
		i, aborted := o.scan(sess)
		if aborted != "" || i < 0 {
			return steps
		}
		def := o.stages[i]
		if err := ctx.Err(); err != nil {
			o.logger.Error(ctx, "tick cancelled", err, zap.String("stage", def.Name))
			return steps
		}
		out := o.controller.Step(ctx, def, sess, message)
		steps = append(steps, out)
		if !out.Status.IsTerminal() || def.Fallthrough == StrictAbort {
			return steps
		}
	}
}

// scan returns the first runnable stage index, or -1. A strict stage that
// is exhausted aborts the scan and is returned by name.
func (o *Orchestrator) scan(sess *session.Session) (int, string) {
	var snap *session.Snapshot
	for i, def := range o.stages {
		status := sess.RunStatus(def.Name)
		if status == session.StatusExhausted && def.Fallthrough == StrictAbort {
			return -1, def.Name
		}
		if status.IsTerminal() {
			continue
		}
		if def.Trigger != nil {
			if snap == nil {
				s := sess.State.Snapshot()
				snap = &s
			}
			if !def.Trigger(*snap) {
				continue
			}
		}
		return i, ""
	}
	return -1, ""
}

func (o *Orchestrator) isComplete(sess *session.Session) bool {
	i, aborted := o.scan(sess)
	return i < 0 && aborted == ""
}

func (o *Orchestrator) exhausted(sess *session.Session) []string {
	var out []string
	for _, def := range o.stages {
		if sess.RunStatus(def.Name) == session.StatusExhausted {
			out = append(out, def.Name)
		}
	}
	return out
}

// finalExhausted reports whether the stage owning the final output key
// exhausted. A key written only by tools has no owning stage.
func (o *Orchestrator) finalExhausted(sess *session.Session) bool {
	for _, def := range o.stages {
		if def.OutputKey == o.finalKey {
			return sess.RunStatus(def.Name) == session.StatusExhausted
		}
	}
	return false
}

// coordinate runs the top-level step. It has tool access, writes no
// output key and is never validated.
func (o *Orchestrator) coordinate(ctx context.Context, sess *session.Session, message string) string {
	req := generation.Request{
		Stage:   CoordinatorStage,
		Message: message,
		History: append([]session.Turn(nil), sess.Turns...),
		State:   sess.State.Snapshot(),
	}
	staged := &stagedWrites{}
	if o.tools != nil {
		req.Tools = o.tools.Bind(staged)
	}
	resp, err := o.controller.generate(ctx, o.coordinator, req)
	if err != nil {
		staged.discard()
		o.logger.GenerationFailed(ctx, CoordinatorStage, 0, err)
		return ""
	}
	staged.commit(sess.State)
	return resp.Reply
}

// withPatient tags ctx with the first patient_id a stage has recorded.
func (o *Orchestrator) withPatient(ctx context.Context, sess *session.Session) context.Context {
	for _, def := range o.stages {
		if v, ok := sess.State.Get(def.OutputKey); ok {
			if pid := v.StringField("patient_id"); pid != "" {
				return logging.WithPatientID(ctx, pid)
			}
		}
	}
	return ctx
}

// InvokeTool runs one tool for a session outside any stage and stores the
// result under the tool's key.
func (o *Orchestrator) InvokeTool(ctx context.Context, sessionID, name string, args map[string]any) (tools.Result, error) {
	if o.tools == nil {
		return tools.Result{}, ErrNoTools
	}
	if err := session.ValidateID(sessionID); err != nil {
		return tools.Result{}, err
	}
	unlock := o.locker.Lock(sessionID)
	defer unlock()

	ctx = logging.WithSessionID(ctx, sessionID)
	sess, err := o.load(ctx, sessionID)
	if err != nil {
		return tools.Result{}, err
	}
	ctx = o.withPatient(ctx, sess)
	res := o.tools.Bind(sess.State).Call(ctx, name, args)
	sess.UpdatedAt = o.now()
	if err := o.store.Save(ctx, sess); err != nil {
		return res, fmt.Errorf("saving session %s: %w", sessionID, err)
	}
	return res, nil
}

// Session returns a stored session.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	if err := session.ValidateID(sessionID); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, sessionID)
}

// Sessions lists stored session ids.
func (o *Orchestrator) Sessions(ctx context.Context) ([]string, error) {
	return o.store.List(ctx)
}

func (o *Orchestrator) load(ctx context.Context, id string) (*session.Session, error) {
	sess, err := o.store.Get(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return session.New(id, o.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return sess, nil
}
