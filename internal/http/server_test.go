package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicpulse/internal/briefing"
	"github.com/fyrsmithlabs/clinicpulse/internal/clinic"
	"github.com/fyrsmithlabs/clinicpulse/internal/events"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

var fixedNow = time.Date(2025, 11, 20, 9, 30, 0, 0, time.UTC)

func setupTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	return setupTestServerWith(t, clinic.Options{}, opts...)
}

func setupTestServerWith(t *testing.T, copts clinic.Options, opts ...Option) *Server {
	t.Helper()
	copts.Clock = func() time.Time { return fixedNow }
	copts.Clinic = tools.NewClinic(tools.WithClock(copts.Clock), tools.WithSeed(3))
	app, err := clinic.NewPipeline(nil, copts)
	require.NoError(t, err)
	server, err := NewServer(app.Pipeline, logging.Nop(), &Config{Host: "localhost", Port: 0, Version: "test"}, opts...)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		app, err := clinic.NewPipeline(nil, clinic.Options{})
		require.NoError(t, err)
		server, err := NewServer(app.Pipeline, logging.Nop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8080, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		app, err := clinic.NewPipeline(nil, clinic.Options{})
		require.NoError(t, err)
		_, err = NewServer(app.Pipeline, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when pipeline is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.Nop(), nil)
		assert.ErrorContains(t, err, "pipeline cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	rec := do(t, setupTestServer(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestHandleMetrics(t *testing.T) {
	rec := do(t, setupTestServer(t), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleMessage(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/s1/messages", MessageRequest{
		Message: "Patient P-12 Tom Hale has a cough",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res pipeline.TickResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "s1", res.SessionID)
	assert.False(t, res.Complete)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, clinic.StageIntake, res.Steps[0].Stage)
	assert.Contains(t, res.Response, "duration")

	t.Run("empty message", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/sessions/s1/messages", MessageRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid session id", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/sessions/bad.id/messages", MessageRequest{Message: "hi"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/s1/messages", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGetSession(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, msg := range clinic.DemoMessages[:2] {
		rec = do(t, s, http.MethodPost, "/api/v1/sessions/s2/messages", MessageRequest{Message: msg})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/s2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s2", resp.ID)
	require.Len(t, resp.Stages, 5)
	assert.Equal(t, session.StatusEscalated, resp.Stages[0].Status)
	assert.Equal(t, 2, resp.Stages[0].Iterations)
	assert.Equal(t, session.StatusPending, resp.Stages[1].Status)
	assert.Len(t, resp.Turns, 2)

	intake, ok := resp.State.Get(clinic.KeyPatientIntake)
	require.True(t, ok)
	assert.Equal(t, "P-1042", intake.StringField("patient_id"))

	rec = do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list SessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{"s2"}, list.Sessions)
}

func TestHandleStages(t *testing.T) {
	rec := do(t, setupTestServer(t), http.MethodGet, "/api/v1/stages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stages []StageInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stages))
	require.Len(t, stages, 5)
	assert.Equal(t, "strict-abort", stages[0].Fallthrough)
	assert.True(t, stages[2].Conditional)
	assert.True(t, stages[2].Pausable)
}

func TestHandleTool(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/s3/tools/"+tools.FetchPatientRecords, ToolRequest{
		Args: map[string]any{"patient_id": "P-9"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res tools.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.OK)
	assert.Equal(t, "P-9", res.Output["patient_id"])

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/s3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.True(t, sess.State.Has(tools.KeyPatientRecords))

	t.Run("missing argument is a tool failure", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/sessions/s3/tools/"+tools.FetchPatientRecords, ToolRequest{})
		require.Equal(t, http.StatusOK, rec.Code)
		var res tools.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.False(t, res.OK)
		assert.True(t, res.Retryable)
	})

	t.Run("unknown tool", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/sessions/s3/tools/teleport", ToolRequest{})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleEvaluate(t *testing.T) {
	s := setupTestServer(t)
	text := "## Overview\n## Vitals\n## Risk Flags\n## Next Steps\nsymptom history triage vital follow. Red flag: escalate, urgent."

	rec := do(t, s, http.MethodPost, "/api/v1/briefings/evaluate", EvaluateRequest{Text: text})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp EvaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, briefing.Evaluate(text), resp.Scores)
	assert.Equal(t, briefing.MaxTotal, resp.MaxTotal)

	rec = do(t, s, http.MethodPost, "/api/v1/briefings/evaluate", EvaluateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvents_Disabled(t *testing.T) {
	rec := do(t, setupTestServer(t), http.MethodGet, "/api/v1/sessions/s1/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	})
	require.NoError(t, err)
	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestHandleEvents_StreamsUntilComplete(t *testing.T) {
	ns := startTestNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	s := setupTestServerWith(t, clinic.Options{Publisher: events.NewPublisher(nc, "test")}, WithEvents(nc, "test"))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	// Advance the session to the paused labs stage first so the final
	// message completes the pipeline.
	for _, msg := range clinic.DemoMessages[:3] {
		rec := do(t, s, http.MethodPost, "/api/v1/sessions/demo/messages", MessageRequest{Message: msg})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/sessions/demo/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	rec := do(t, s, http.MethodPost, "/api/v1/sessions/demo/messages", MessageRequest{Message: clinic.DemoMessages[3]})
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	assert.Equal(t, []string{"escalated", "escalated", "escalated", "complete"}, names)
}
