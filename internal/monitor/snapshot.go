package monitor

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/clinicpulse/internal/config"
	httpapi "github.com/fyrsmithlabs/clinicpulse/internal/http"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// Phase summarizes where a session is in the pipeline.
type Phase string

const (
	PhaseActive  Phase = "active"
	PhasePaused  Phase = "paused"
	PhaseDone    Phase = "done"
	PhaseAborted Phase = "aborted"
)

// SessionSummary is one dashboard row.
type SessionSummary struct {
	ID         string
	Phase      Phase
	Stage      string
	Status     session.Status
	Iterations int
	Max        int
	Turns      int
	Exhausted  []string
}

// Snapshot is one poll of the server.
type Snapshot struct {
	Version  string
	Sessions []SessionSummary
	Phases   map[Phase]int
}

// Summarize reduces a session to its current stage. A strict stage that
// exhausted marks the session aborted.
func Summarize(resp *httpapi.SessionResponse, stages []httpapi.StageInfo) SessionSummary {
	strict := make(map[string]bool, len(stages))
	for _, s := range stages {
		strict[s.Name] = s.Fallthrough == config.FallthroughStrictAbort
	}

	sum := SessionSummary{ID: resp.ID, Turns: len(resp.Turns)}
	var current *httpapi.StageStatus
	for i := range resp.Stages {
		st := &resp.Stages[i]
		switch st.Status {
		case session.StatusExhausted:
			sum.Exhausted = append(sum.Exhausted, st.Stage)
			if strict[st.Stage] && current == nil {
				sum.Phase = PhaseAborted
				current = st
			}
		case session.StatusRunning, session.StatusPaused:
			if current == nil {
				current = st
			}
		}
	}

	if current == nil && len(resp.Stages) > 0 {
		last := &resp.Stages[len(resp.Stages)-1]
		if last.Status.IsTerminal() {
			sum.Phase = PhaseDone
			current = last
		} else {
			for i := range resp.Stages {
				if resp.Stages[i].Status == session.StatusPending {
					current = &resp.Stages[i]
					break
				}
			}
		}
	}
	if current == nil {
		return sum
	}

	sum.Stage = current.Stage
	sum.Status = current.Status
	sum.Iterations = current.Iterations
	sum.Max = current.Max
	if sum.Phase == "" {
		sum.Phase = PhaseActive
		if current.Status == session.StatusPaused {
			sum.Phase = PhasePaused
		}
	}
	return sum
}

// Poll fetches the server version, the stage table and every session.
func Poll(ctx context.Context, c *Client) (Snapshot, error) {
	health, err := c.Health(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	stages, err := c.Stages(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetching stages: %w", err)
	}
	ids, err := c.Sessions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing sessions: %w", err)
	}

	snap := Snapshot{Version: health.Version, Phases: make(map[Phase]int)}
	for _, id := range ids {
		resp, err := c.Session(ctx, id)
		if err != nil {
			return Snapshot{}, fmt.Errorf("fetching session %s: %w", id, err)
		}
		sum := Summarize(resp, stages)
		snap.Sessions = append(snap.Sessions, sum)
		snap.Phases[sum.Phase]++
	}
	return snap, nil
}
