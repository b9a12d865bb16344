package clinic

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/clinicpulse/internal/config"
	"github.com/fyrsmithlabs/clinicpulse/internal/generation"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/session/natskv"
	"github.com/fyrsmithlabs/clinicpulse/internal/session/sqlite"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

// Options overrides the parts of the pipeline NewPipeline would
// otherwise build from configuration.
type Options struct {
	Store     session.Store
	Publisher pipeline.Publisher
	Logger    *logging.Logger
	Metrics   *pipeline.Metrics
	Clinic    *tools.Clinic
	Generator generation.Generator
	Clock     func() time.Time
}

// App is a wired ClinicPulse pipeline.
type App struct {
	Pipeline *pipeline.Orchestrator
	Tools    *tools.Registry
	Store    session.Store
}

// NewPipeline wires the clinic stages, tools and generator into an
// orchestrator. An in-memory store is used when opts.Store is nil.
func NewPipeline(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	clinic := opts.Clinic
	if clinic == nil {
		clinic = tools.NewClinic(tools.WithClock(now))
	}
	reg := tools.NewRegistry(logger)
	if err := clinic.Register(reg); err != nil {
		return nil, fmt.Errorf("register clinic tools: %w", err)
	}

	gen := opts.Generator
	if gen == nil {
		var err error
		if gen, err = NewGenerator(cfg.Generation, now, logger); err != nil {
			return nil, err
		}
	}
	gen = &scoredGenerator{next: gen, logger: logger.Named("briefing")}

	stages, err := pipeline.ApplyOverrides(Stages(), cfg.Pipeline.Stages)
	if err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		store = session.Instrument(session.NewMemoryStore(), config.BackendMemory)
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithTools(reg),
		pipeline.WithFinalOutputKey(FinalOutputKey),
		pipeline.WithLogger(logger),
		pipeline.WithClock(now),
	}
	pipeOpts = append(pipeOpts, pipeline.FromConfig(cfg.Pipeline)...)
	if cfg.Generation.Provider == config.ProviderOpenAI {
		pipeOpts = append(pipeOpts, pipeline.WithCoordinator(gen))
	}
	if opts.Publisher != nil {
		pipeOpts = append(pipeOpts, pipeline.WithPublisher(opts.Publisher))
	}
	if opts.Metrics != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMetrics(opts.Metrics))
	}

	orch, err := pipeline.New(stages, gen, store, pipeOpts...)
	if err != nil {
		return nil, err
	}
	return &App{Pipeline: orch, Tools: reg, Store: store}, nil
}

// NewGenerator returns the generator named by gc.Provider.
func NewGenerator(gc config.GenerationConfig, now func() time.Time, logger *logging.Logger) (generation.Generator, error) {
	switch gc.Provider {
	case "", config.ProviderRules:
		return NewRuleGenerator(now), nil
	case config.ProviderOpenAI:
		llm, err := generation.NewOpenAI(gc, CriticStages, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pipeline.ErrConfiguration, err)
		}
		return llm, nil
	}
	return nil, fmt.Errorf("%w: unknown generation provider %q", pipeline.ErrConfiguration, gc.Provider)
}

// OpenStore opens the configured session store, wrapped with Prometheus
// instrumentation. nc is only used by the nats backend.
func OpenStore(ctx context.Context, sc config.StoreConfig, nc *nats.Conn) (session.Store, error) {
	var (
		store session.Store
		err   error
	)
	switch sc.Backend {
	case "", config.BackendMemory:
		store = session.NewMemoryStore()
	case config.BackendSQLite:
		store, err = sqlite.Open(sc.SQLitePath)
	case config.BackendNATS:
		if nc == nil {
			return nil, fmt.Errorf("%w: nats store needs a connection", pipeline.ErrConfiguration)
		}
		store, err = natskv.New(ctx, nc, sc.NATSBucket)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", pipeline.ErrConfiguration, sc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sc.Backend, err)
	}
	backend := sc.Backend
	if backend == "" {
		backend = config.BackendMemory
	}
	return session.Instrument(store, backend), nil
}
