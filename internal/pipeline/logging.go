package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/generation"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
)

// Logger emits pipeline events. A nil *Logger discards everything.
type Logger struct {
	logger *logging.Logger
}

// NewLogger creates a Logger. If logger is nil, uses a no-op logger.
func NewLogger(logger *logging.Logger) *Logger {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Logger{logger: logger.Named("pipeline")}
}

// TickStarted logs an inbound message.
func (l *Logger) TickStarted(ctx context.Context, turn int) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Step(ctx, "tick", "tick started", zap.Int("turn", turn))
}

// IterationStarted logs the request for one generation attempt at trace
// level.
func (l *Logger) IterationStarted(ctx context.Context, req generation.Request) {
	if l == nil || l.logger == nil || !l.logger.Enabled(logging.TraceLevel) {
		return
	}
	l.logger.Trace(ctx, "iteration started",
		zap.String("stage", req.Stage),
		zap.Int("iteration", req.Iteration),
		zap.Int("history_turns", len(req.History)),
		zap.Int("message_bytes", len(req.Message)),
		zap.Bool("tools", req.Tools != nil),
	)
}

// StageStepped logs one generation attempt and its gate result.
func (l *Logger) StageStepped(ctx context.Context, out Outcome) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Step(ctx, out.Stage, "stage stepped",
		zap.Int("iteration", out.Iteration),
		zap.String("status", string(out.Status)),
		zap.String("diagnostic", out.Diagnostic),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Duration("duration", out.Duration),
	)
}

// StageEscalated logs a stage passing its gate.
func (l *Logger) StageEscalated(ctx context.Context, stage string, iteration int) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Step(ctx, stage, "stage escalated", zap.Int("iteration", iteration))
}

// StageExhausted logs a stage hitting its iteration cap.
func (l *Logger) StageExhausted(ctx context.Context, stage string, iterations int, diagnostic string) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn(ctx, "stage exhausted",
		zap.String("stage", stage),
		zap.Int("iterations", iterations),
		zap.String("diagnostic", diagnostic),
	)
}

// StagePaused logs a stage waiting on external input.
func (l *Logger) StagePaused(ctx context.Context, stage string, iteration int) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Step(ctx, stage, "stage paused", zap.Int("iteration", iteration))
}

// GenerationFailed logs a failed iteration.
func (l *Logger) GenerationFailed(ctx context.Context, stage string, iteration int, err error) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn(ctx, "generation failed",
		zap.String("stage", stage),
		zap.Int("iteration", iteration),
		zap.Error(err),
	)
}

// PipelineAborted logs a strict stage ending the pipeline.
func (l *Logger) PipelineAborted(ctx context.Context, stage string) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Warn(ctx, "pipeline aborted", zap.String("stage", stage))
}

// PipelineComplete logs the final tick of a session.
func (l *Logger) PipelineComplete(ctx context.Context, exhausted []string, duration time.Duration) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Step(ctx, "pipeline", "pipeline complete",
		zap.Strings("exhausted", exhausted),
		zap.Duration("duration", duration),
	)
}

// Error logs an error with context.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Error(ctx, msg, append([]zap.Field{zap.Error(err)}, fields...)...)
}
