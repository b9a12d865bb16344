package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))

	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err, "otel output without a provider leaves no sink")
}

func TestLogger_Step(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithSessionID(context.Background(), "sess_1")
	ctx = WithPatientID(ctx, "P12345")
	ctx = WithStage(ctx, "triage")

	tl.Step(ctx, "record_triage_decision", "priority=Critical", zap.Int("iteration", 1))

	tl.AssertLogged(t, zapcore.InfoLevel, "priority=Critical")
	tl.AssertField(t, "priority=Critical", "step", "RECORD_TRIAGE_DECISION")
	tl.AssertField(t, "priority=Critical", "session.id", "sess_1")
	tl.AssertField(t, "priority=Critical", "patient.id", "P12345")
	tl.AssertField(t, "priority=Critical", "pipeline.stage", "triage")
	tl.AssertField(t, "priority=Critical", "iteration", int64(1))
}

func TestLogger_StepNilSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Step(context.Background(), "x", "y") })
}

func TestLogger_LevelsAndChildren(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "t")
	tl.Debug(ctx, "d")
	tl.Warn(ctx, "w")
	tl.Error(ctx, "e")
	tl.Named("pipeline").With(zap.String("component", "controller")).Info(ctx, "child")

	tl.AssertLogged(t, TraceLevel, "t")
	tl.AssertLogged(t, zapcore.DebugLevel, "d")
	tl.AssertLogged(t, zapcore.WarnLevel, "w")
	tl.AssertLogged(t, zapcore.ErrorLevel, "e")
	tl.AssertField(t, "child", "component", "controller")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "child")

	tl.Reset()
	assert.Empty(t, tl.Entries())
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	provider := trace.NewTracerProvider(trace.WithSampler(trace.AlwaysSample()))
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithRequestID(ctx, "req-1")

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
	assert.True(t, keys["trace_sampled"])
	assert.True(t, keys["request.id"])

	tl := NewTestLogger()
	tl.Info(ctx, "traced")
	tl.AssertTraceCorrelation(t, "traced")
}

func TestExternalIDsDroppedWhenMalformed(t *testing.T) {
	ctx := WithPatientID(context.Background(), "John Smith")
	ctx = WithRequestID(ctx, "a/b")
	assert.Empty(t, ContextFields(ctx))

	ctx = WithPatientID(ctx, "UNKNOWN")
	assert.Equal(t, "UNKNOWN", value(ctx, patientKey))
}

func TestInternalIDsPanicWhenMalformed(t *testing.T) {
	assert.Panics(t, func() { WithSessionID(context.Background(), "") })
	assert.Panics(t, func() { WithStage(context.Background(), "bad stage") })
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	tl := NewTestLogger()
	cfg := NewDefaultConfig().Sampling
	cfg.Initial = 2
	cfg.Thereafter = 0
	sampled := sample(tl.zap.Core(), cfg)

	for i := 0; i < 10; i++ {
		for _, lvl := range []zapcore.Level{zapcore.InfoLevel, zapcore.ErrorLevel} {
			if ce := sampled.Check(zapcore.Entry{Level: lvl, Message: "tick"}, nil); ce != nil {
				ce.Write()
			}
		}
	}
	assert.Len(t, tl.find(zapcore.InfoLevel, "tick"), 2)
	assert.Len(t, tl.find(zapcore.ErrorLevel, "tick"), 10)

	core := tl.zap.Core()
	assert.Equal(t, core, sample(core, SamplingConfig{}))
}
