package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/clinicpulse/internal/pipeline"

// Metrics provides OpenTelemetry metrics for the pipeline.
type Metrics struct {
	ticksTotal       metric.Int64Counter
	iterationsTotal  metric.Int64Counter
	transitionsTotal metric.Int64Counter
	completedTotal   metric.Int64Counter

	tickDuration       metric.Float64Histogram
	generationDuration metric.Float64Histogram

	initialized bool
}

// NewMetrics creates a Metrics instance. If meter is nil, uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.ticksTotal, err = meter.Int64Counter(
		"pipeline.ticks.total",
		metric.WithDescription("Total number of inbound messages processed"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	m.iterationsTotal, err = meter.Int64Counter(
		"pipeline.stage.iterations.total",
		metric.WithDescription("Total generation attempts per stage"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, err
	}

	m.transitionsTotal, err = meter.Int64Counter(
		"pipeline.stage.transitions.total",
		metric.WithDescription("Stage status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.completedTotal, err = meter.Int64Counter(
		"pipeline.sessions.completed.total",
		metric.WithDescription("Sessions whose pipeline completed or aborted"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	m.tickDuration, err = meter.Float64Histogram(
		"pipeline.tick.duration.seconds",
		metric.WithDescription("Duration of one tick in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	m.generationDuration, err = meter.Float64Histogram(
		"pipeline.generation.duration.seconds",
		metric.WithDescription("Duration of one generation call in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordTick records one processed message. Session ids stay out of metric
// attributes; logs and traces carry them.
func (m *Metrics) RecordTick(ctx context.Context, complete, aborted bool, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("complete", complete),
		attribute.Bool("aborted", aborted),
	)
	m.ticksTotal.Add(ctx, 1, attrs)
	m.tickDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordIteration records one generation attempt.
func (m *Metrics) RecordIteration(ctx context.Context, stage string, failed bool, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	result := "ok"
	if failed {
		result = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("result", result),
	)
	m.iterationsTotal.Add(ctx, 1, attrs)
	m.generationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTransition records a stage entering status.
func (m *Metrics) RecordTransition(ctx context.Context, stage string, status session.Status) {
	if m == nil || !m.initialized {
		return
	}
	m.transitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", string(status)),
	))
}

// RecordFinished records a session reaching completion or abort.
func (m *Metrics) RecordFinished(ctx context.Context, outcome string) {
	if m == nil || !m.initialized {
		return
	}
	m.completedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Tracer returns a tracer for the pipeline package.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// StartSpan starts a span carrying session and stage attributes.
func StartSpan(ctx context.Context, name, sessionID, stage string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("pipeline.session_id", sessionID)}
	if stage != "" {
		attrs = append(attrs, attribute.String("pipeline.stage", stage))
	}
	allOpts := append([]trace.SpanStartOption{trace.WithAttributes(attrs...)}, opts...)
	return Tracer().Start(ctx, name, allOpts...)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err, trace.WithAttributes(attrs...))
	}
}

// SetSpanStatus sets the status on the current span.
func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetStatus(code, description)
	}
}
