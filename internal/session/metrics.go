// internal/session/metrics.go
package session

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperationsTotal counts store calls.
	// Labels: backend (memory, sqlite, nats), op (get, save, list, delete), result (success, not_found, error)
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicpulse",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of session store operations by backend, operation and result",
		},
		[]string{"backend", "op", "result"},
	)

	// StoreOperationDuration tracks store call latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicpulse",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Duration of session store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// SessionsStored tracks the number of sessions last seen by List.
	SessionsStored = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clinicpulse",
			Subsystem: "store",
			Name:      "sessions",
			Help:      "Number of sessions held by the backend as of the last list call",
		},
		[]string{"backend"},
	)
)

// instrumentedStore records Prometheus metrics around another Store.
type instrumentedStore struct {
	next    Store
	backend string
}

// Instrument wraps store so every call is counted and timed under backend.
func Instrument(store Store, backend string) Store {
	return &instrumentedStore{next: store, backend: backend}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrSessionNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	StoreOperationsTotal.WithLabelValues(s.backend, op, result).Inc()
	StoreOperationDuration.WithLabelValues(s.backend, op).Observe(time.Since(start).Seconds())
}

func (s *instrumentedStore) Get(ctx context.Context, id string) (*Session, error) {
	start := time.Now()
	sess, err := s.next.Get(ctx, id)
	s.observe("get", start, err)
	return sess, err
}

func (s *instrumentedStore) Save(ctx context.Context, sess *Session) error {
	start := time.Now()
	err := s.next.Save(ctx, sess)
	s.observe("save", start, err)
	return err
}

func (s *instrumentedStore) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := s.next.List(ctx)
	s.observe("list", start, err)
	if err == nil {
		SessionsStored.WithLabelValues(s.backend).Set(float64(len(ids)))
	}
	return ids, err
}

func (s *instrumentedStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.next.Delete(ctx, id)
	s.observe("delete", start, err)
	return err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
