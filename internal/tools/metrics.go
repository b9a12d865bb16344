// internal/tools/metrics.go
package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsTotal counts tool invocations.
	// Labels: tool, result (success, error)
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicpulse",
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Total number of tool invocations by result",
		},
		[]string{"tool", "result"},
	)

	// CallDuration tracks how long tool handlers take.
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicpulse",
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Duration of tool invocations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
)
