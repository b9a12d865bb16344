package monitor

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicpulse/internal/clinic"
	httpapi "github.com/fyrsmithlabs/clinicpulse/internal/http"
	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

func startTestAPI(t *testing.T) *Client {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 11, 20, 9, 30, 0, 0, time.UTC) }
	app, err := clinic.NewPipeline(nil, clinic.Options{
		Clock:  now,
		Clinic: tools.NewClinic(tools.WithClock(now), tools.WithSeed(3)),
	})
	require.NoError(t, err)

	srv, err := httpapi.NewServer(app.Pipeline, logging.Nop(), &httpapi.Config{Version: "test"})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL + "/")
}

func TestClient_Health(t *testing.T) {
	c := startTestAPI(t)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "test", h.Version)
}

func TestClient_SendAndSession(t *testing.T) {
	c := startTestAPI(t)
	ctx := context.Background()

	res, err := c.Send(ctx, "s1", clinic.DemoMessages[0])
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)
	assert.False(t, res.Complete)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, session.StatusRunning, res.Steps[0].Status)

	ids, err := c.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	sess, err := c.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, sess.Turns, 1)
	require.NotEmpty(t, sess.Stages)
	assert.Equal(t, clinic.StageIntake, sess.Stages[0].Stage)
	assert.True(t, sess.State.Has(clinic.KeyPatientIntake))
}

func TestClient_Errors(t *testing.T) {
	c := startTestAPI(t)
	ctx := context.Background()

	_, err := c.Session(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Send(ctx, "s1", "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "message field is required")

	_, err = NewClient("http://127.0.0.1:1").Health(ctx)
	assert.Error(t, err)
}

func TestClient_InvokeTool(t *testing.T) {
	c := startTestAPI(t)
	res, err := c.InvokeTool(context.Background(), "s2", tools.WaitForLabResults, map[string]any{"patient_id": "P-1"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "pending", res.Output["status"])
}

func TestClient_Evaluate(t *testing.T) {
	c := startTestAPI(t)
	res, err := c.Evaluate(context.Background(), "## Overview\nCough.\n## Risk Flags\n- none")
	require.NoError(t, err)
	assert.Positive(t, res.Total)
	assert.GreaterOrEqual(t, res.MaxTotal, res.Total)
}

func TestPoll(t *testing.T) {
	c := startTestAPI(t)
	ctx := context.Background()

	for _, msg := range clinic.DemoMessages {
		_, err := c.Send(ctx, clinic.DemoSessionID, msg)
		require.NoError(t, err)
	}
	_, err := c.Send(ctx, "other", clinic.DemoMessages[0])
	require.NoError(t, err)

	snap, err := Poll(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "test", snap.Version)
	require.Len(t, snap.Sessions, 2)
	assert.Equal(t, 1, snap.Phases[PhaseDone])
	assert.Equal(t, 1, snap.Phases[PhaseActive])

	for _, s := range snap.Sessions {
		if s.ID == clinic.DemoSessionID {
			assert.Equal(t, PhaseDone, s.Phase)
			assert.Equal(t, 4, s.Turns)
		}
	}
}
