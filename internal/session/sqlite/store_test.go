package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)
	sess := session.New("s-1", now)
	sess.State.Set("clinician_briefing", session.FreeText("## Overview\nstable"))
	sess.State.Set("triage_priority", session.Structured(map[string]any{"priority_level": "Critical"}))
	run := sess.Run("triage")
	run.Iterations = 2
	run.Status = session.StatusRunning
	run.Diagnostic = "missing: priority_level"

	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)

	brief, ok := got.State.Get("clinician_briefing")
	require.True(t, ok)
	assert.Equal(t, session.KindFreeText, brief.Kind)
	assert.Equal(t, "## Overview\nstable", brief.Text)

	triage, ok := got.State.Get("triage_priority")
	require.True(t, ok)
	assert.Equal(t, "Critical", triage.StringField("priority_level"))

	assert.Equal(t, 2, got.Runs["triage"].Iterations)
	assert.Equal(t, "missing: priority_level", got.Runs["triage"].Diagnostic)
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := session.New("s-1", time.Now())
	require.NoError(t, store.Save(ctx, sess))

	sess.State.Set("patient_records", session.Structured(map[string]any{"patient_id": "P1"}))
	sess.AddTurn("m", "r", time.Now())
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, got.State.Has("patient_records"))
	assert.Len(t, got.Turns, 1)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-1"}, ids)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, session.New("s-1", time.Now())))
	require.NoError(t, store.Delete(ctx, "s-1"))
	require.NoError(t, store.Delete(ctx, "s-1"))

	_, err := store.Get(ctx, "s-1")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, session.New("s-1", time.Now())))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.ID)
}
