package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/clinic"
	"github.com/fyrsmithlabs/clinicpulse/internal/config"
	"github.com/fyrsmithlabs/clinicpulse/internal/events"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/telemetry"
)

// runtime holds everything a command needs to drive the pipeline.
type runtime struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	natsConn  *nats.Conn
	store     session.Store
	app       *clinic.App
}

type runtimeOptions struct {
	// stderr logs to stderr so stdout stays free for the command.
	stderr bool
}

// newRuntime initializes dependencies in order:
//  1. telemetry (degrades instead of failing)
//  2. logger, bridged to telemetry when enabled
//  3. NATS, when the store or events need it
//  4. session store
//  5. the pipeline
func newRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	rt.telemetry = tel

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	if opts.stderr {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	logCfg.Output.OTEL = tel.LoggerProvider() != nil
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	rt.logger = logger

	if cfg.Store.Backend == config.BackendNATS || cfg.Events.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, "clinicpulse")
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		rt.natsConn = nc
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
	}

	store, err := clinic.OpenStore(ctx, cfg.Store, rt.natsConn)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	rt.store = store

	copts := clinic.Options{Store: store, Logger: logger}
	if cfg.Events.Enabled {
		copts.Publisher = events.NewPublisher(rt.natsConn, cfg.Events.SubjectPrefix)
	}
	app, err := clinic.NewPipeline(cfg, copts)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.app = app

	logger.Info(ctx, "pipeline ready",
		zap.String("provider", cfg.Generation.Provider),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("telemetry", tel.IsEnabled()))
	return rt, nil
}

// Close releases resources in reverse order of creation.
func (rt *runtime) Close(ctx context.Context) {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.natsConn != nil {
		errs = append(errs, rt.natsConn.Drain())
	}
	if rt.telemetry != nil {
		errs = append(errs, rt.telemetry.Shutdown(ctx))
	}
	if rt.logger != nil {
		if err := errors.Join(errs...); err != nil {
			rt.logger.Warn(ctx, "shutdown incomplete", zap.Error(err))
		}
		_ = rt.logger.Sync()
	}
}
