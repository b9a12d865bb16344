package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicpulse/internal/clinic"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

func newTestServer(t *testing.T) (*Server, *clinic.App) {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 11, 20, 9, 30, 0, 0, time.UTC) }
	app, err := clinic.NewPipeline(nil, clinic.Options{
		Clock:  now,
		Clinic: tools.NewClinic(tools.WithClock(now), tools.WithSeed(3)),
	})
	require.NoError(t, err)

	s, err := NewServer(nil, app.Pipeline, app.Tools)
	require.NoError(t, err)
	return s, app
}

func TestNewServer(t *testing.T) {
	app, err := clinic.NewPipeline(nil, clinic.Options{})
	require.NoError(t, err)

	t.Run("requires pipeline", func(t *testing.T) {
		_, err := NewServer(nil, nil, app.Tools)
		assert.Error(t, err)
	})

	t.Run("requires registry", func(t *testing.T) {
		_, err := NewServer(nil, app.Pipeline, nil)
		assert.Error(t, err)
	})

	t.Run("missing clinic tool", func(t *testing.T) {
		_, err := NewServer(nil, app.Pipeline, tools.NewRegistry(nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch_patient_records")
	})

	t.Run("defaults", func(t *testing.T) {
		s, err := NewServer(&Config{Name: "clinicpulse-test", Version: "1.0.0"}, app.Pipeline, app.Tools)
		require.NoError(t, err)
		assert.NotNil(t, s.mcp)
		assert.NotNil(t, s.metrics)
		assert.NotNil(t, s.logger)
	})
}

func TestSendMessage(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, out, err := s.sendMessage(ctx, nil, sendMessageInput{
		SessionID: clinic.DemoSessionID,
		Message:   clinic.DemoMessages[0],
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, out.Complete)
	assert.False(t, out.Aborted)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, clinic.StageIntake, out.Steps[0].Stage)
	assert.Equal(t, string(session.StatusRunning), out.Steps[0].Status)
	assert.Equal(t, 1, out.Steps[0].Iteration)
	assert.Contains(t, out.Response, "duration")
}

func TestSendMessage_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, _, err := s.sendMessage(ctx, nil, sendMessageInput{SessionID: "s1"})
	assert.Error(t, err)

	_, _, err = s.sendMessage(ctx, nil, sendMessageInput{SessionID: "bad.id", Message: "hi"})
	assert.ErrorIs(t, err, session.ErrInvalidSessionID)
}

func TestGetSession(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	for _, msg := range clinic.DemoMessages[:2] {
		_, _, err := s.sendMessage(ctx, nil, sendMessageInput{SessionID: "s1", Message: msg})
		require.NoError(t, err)
	}

	_, out, err := s.getSession(ctx, nil, getSessionInput{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, 2, out.Turns)
	require.Len(t, out.Stages, 5)
	assert.Equal(t, clinic.StageIntake, out.Stages[0].Stage)
	assert.Equal(t, string(session.StatusEscalated), out.Stages[0].Status)
	assert.Equal(t, string(session.StatusPending), out.Stages[1].Status)

	intake, ok := out.State[clinic.KeyPatientIntake].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "P-1042", intake["patient_id"])
}

func TestGetSession_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	_, _, err := s.getSession(context.Background(), nil, getSessionInput{SessionID: "missing"})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCallClinicTool(t *testing.T) {
	s, app := newTestServer(t)
	ctx := context.Background()

	res, out, err := s.callClinicTool(ctx, tools.FetchPatientRecords, "s2", map[string]any{"patient_id": "P-1042"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, out.OK)
	assert.Equal(t, "P-1042", out.Output["patient_id"])

	sess, err := app.Pipeline.Session(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, sess.State.Has(tools.KeyPatientRecords))
}

func TestCallClinicTool_InvalidArgument(t *testing.T) {
	s, _ := newTestServer(t)

	res, out, err := s.callClinicTool(context.Background(), tools.FetchPatientRecords, "s3", map[string]any{"patient_id": ""})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.False(t, out.OK)
	assert.True(t, out.Retryable)
	assert.Contains(t, out.Error, "patient_id")
}
