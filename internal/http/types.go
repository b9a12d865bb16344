package http

import (
	"github.com/fyrsmithlabs/clinicpulse/internal/briefing"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// MessageRequest is the request body for POST /api/v1/sessions/:id/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// ToolRequest is the request body for POST /api/v1/sessions/:id/tools/:name.
type ToolRequest struct {
	Args map[string]any `json:"args"`
}

// StageStatus is one stage's run state within a session.
type StageStatus struct {
	Stage      string         `json:"stage"`
	OutputKey  string         `json:"output_key"`
	Status     session.Status `json:"status"`
	Iterations int            `json:"iterations"`
	Max        int            `json:"max_iterations"`
	Diagnostic string         `json:"diagnostic,omitempty"`
}

// SessionResponse is the response body for GET /api/v1/sessions/:id.
type SessionResponse struct {
	ID     string         `json:"id"`
	Stages []StageStatus  `json:"stages"`
	State  *session.State `json:"state"`
	Turns  []session.Turn `json:"turns"`
}

// SessionsResponse is the response body for GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []string `json:"sessions"`
}

// StageInfo describes a configured stage.
type StageInfo struct {
	Name          string   `json:"name"`
	OutputKey     string   `json:"output_key"`
	MaxIterations int      `json:"max_iterations"`
	Fallthrough   string   `json:"fallthrough"`
	Conditional   bool     `json:"conditional"`
	Pausable      bool     `json:"pausable"`
	Required      []string `json:"required_fields"`
}

// EvaluateRequest is the request body for POST /api/v1/briefings/evaluate.
type EvaluateRequest struct {
	Text string `json:"text"`
}

// EvaluateResponse is the response body for POST /api/v1/briefings/evaluate.
type EvaluateResponse struct {
	briefing.Scores
	MaxTotal int `json:"max_total"`
}
