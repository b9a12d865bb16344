package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

func newTestMetrics(t *testing.T) (*Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logging.Nop(),
	}
	m.init()
	return m, reader
}

func sumOf(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0, false
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

func TestMetrics_RecordInvocation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInvocation(ctx, "send_message", 100*time.Millisecond, nil)
	m.RecordInvocation(ctx, "send_message", 50*time.Millisecond, tools.ErrInvalidArgument)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	invocations, ok := sumOf(rm, "clinicpulse.mcp.tool.invocations_total")
	require.True(t, ok)
	assert.Equal(t, int64(2), invocations)

	errs, ok := sumOf(rm, "clinicpulse.mcp.tool.errors_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), errs)

	var foundDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "clinicpulse.mcp.tool.duration_seconds" {
				foundDuration = true
			}
		}
	}
	assert.True(t, foundDuration)
}

func TestMetrics_ActiveRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.IncrementActive(ctx, "get_session")
	m.IncrementActive(ctx, "get_session")
	m.DecrementActive(ctx, "get_session")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	active, ok := sumOf(rm, "clinicpulse.mcp.tool.active_requests")
	require.True(t, ok)
	assert.Equal(t, int64(1), active)
}

func TestMetrics_NilInstruments(t *testing.T) {
	m := &Metrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordInvocation(ctx, "x", time.Millisecond, errors.New("boom"))
		m.IncrementActive(ctx, "x")
		m.DecrementActive(ctx, "x")
	})
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid session id", fmt.Errorf("%w: bad.id", session.ErrInvalidSessionID), "validation_error"},
		{"empty session id", session.ErrEmptySessionID, "validation_error"},
		{"invalid argument", fmt.Errorf("%w: patient_id is required", tools.ErrInvalidArgument), "validation_error"},
		{"session not found", session.ErrSessionNotFound, "not_found"},
		{"unknown tool", tools.ErrUnknownTool, "not_found"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"generation timeout", pipeline.ErrGenerationTimeout, "timeout"},
		{"tool failure", fmt.Errorf("%w: booking failed", tools.ErrToolInvocation), "tool_error"},
		{"other", errors.New("disk full"), "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeError(tt.err))
		})
	}
}
