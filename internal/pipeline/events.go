package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// PipelineStage is the Stage of session-level events.
const PipelineStage = "pipeline"

// Event is a stage status change announced after a tick is saved.
type Event struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Iteration  int       `json:"iteration,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher delivers events. Failures are logged and never fail a tick.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

func (o *Orchestrator) publish(ctx context.Context, sess *session.Session, res *TickResult, finished bool) {
	if o.publisher == nil {
		return
	}
	at := o.now()
	events := make([]Event, 0, len(res.Steps)+1)
	for _, out := range res.Steps {
		events = append(events, Event{
			ID:         uuid.NewString(),
			SessionID:  sess.ID,
			Stage:      out.Stage,
			Status:     string(out.Status),
			Iteration:  out.Iteration,
			Diagnostic: out.Diagnostic,
			At:         at,
		})
	}
	if finished {
		status := "complete"
		if res.Aborted {
			status = "aborted"
		}
		events = append(events, Event{
			ID:        uuid.NewString(),
			SessionID: sess.ID,
			Stage:     PipelineStage,
			Status:    status,
			At:        at,
		})
	}
	for _, e := range events {
		if err := o.publisher.Publish(ctx, e); err != nil {
			o.logger.Error(ctx, "publish event failed", err,
				zap.String("stage", e.Stage),
				zap.String("status", e.Status),
			)
		}
	}
}
