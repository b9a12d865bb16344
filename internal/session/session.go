// internal/session/session.go
package session

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of one stage within one session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusEscalated Status = "escalated"
	StatusExhausted Status = "exhausted"
	StatusPaused    Status = "paused"
)

// ValidTransitions defines allowed status transitions.
var ValidTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusRunning, StatusEscalated, StatusExhausted, StatusPaused},
	StatusPaused:    {StatusRunning},
	StatusEscalated: {}, // terminal
	StatusExhausted: {}, // terminal
}

// CanTransitionTo checks if a transition from current status to target is valid.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further steps will run for the stage.
func (s Status) IsTerminal() bool {
	return s == StatusEscalated || s == StatusExhausted
}

// StageRun is the persisted run state of one stage in one session.
type StageRun struct {
	Stage      string    `json:"stage"`
	Iterations int       `json:"iterations"`
	Status     Status    `json:"status"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Transition moves the run to target, rejecting transitions outside
// ValidTransitions.
func (r *StageRun) Transition(target Status, now time.Time) error {
	if !r.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s (stage %s)", ErrInvalidTransition, r.Status, target, r.Stage)
	}
	r.Status = target
	r.UpdatedAt = now
	return nil
}

// Turn is one inbound message and the response produced for it.
type Turn struct {
	Message  string    `json:"message"`
	Response string    `json:"response"`
	At       time.Time `json:"at"`
}

// Session is the unit of persistence: state, history and stage runs for
// one conversation.
type Session struct {
	ID        string               `json:"id"`
	State     *State               `json:"state"`
	Turns     []Turn               `json:"turns"`
	Runs      map[string]*StageRun `json:"runs"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// New creates an empty session.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		State:     NewState(),
		Turns:     []Turn{},
		Runs:      make(map[string]*StageRun),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Run returns the run state for stage, creating a pending one on first use.
func (s *Session) Run(stage string) *StageRun {
	if s.Runs == nil {
		s.Runs = make(map[string]*StageRun)
	}
	run, ok := s.Runs[stage]
	if !ok {
		run = &StageRun{Stage: stage, Status: StatusPending}
		s.Runs[stage] = run
	}
	return run
}

// RunStatus returns the stage status without creating a run.
func (s *Session) RunStatus(stage string) Status {
	if run, ok := s.Runs[stage]; ok {
		return run.Status
	}
	return StatusPending
}

// AddTurn appends a message/response pair.
func (s *Session) AddTurn(message, response string, at time.Time) {
	s.Turns = append(s.Turns, Turn{Message: message, Response: response, At: at})
	s.UpdatedAt = at
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:        s.ID,
		Turns:     append([]Turn(nil), s.Turns...),
		Runs:      make(map[string]*StageRun, len(s.Runs)),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.State != nil {
		out.State = s.State.Clone()
	} else {
		out.State = NewState()
	}
	for k, r := range s.Runs {
		run := *r
		out.Runs[k] = &run
	}
	return out
}

// Validate checks the invariants a stored session must satisfy.
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrEmptySessionID
	}
	for name, run := range s.Runs {
		if run.Stage != name {
			return fmt.Errorf("%w: run keyed %q names stage %q", ErrCorruptSession, name, run.Stage)
		}
		if run.Iterations < 0 {
			return fmt.Errorf("%w: stage %q has negative iterations", ErrCorruptSession, name)
		}
	}
	return nil
}
