package natskv

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// startTestNATSServer starts an embedded NATS server with JetStream enabled.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1, // Random port
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
		JetStream:      true,
		StoreDir:       t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
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

func newTestStore(t *testing.T) *Store {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	store, err := New(context.Background(), nc, "")
	require.NoError(t, err)
	return store
}

func TestNew_RequiresConnection(t *testing.T) {
	_, err := New(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestStore_SaveGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)
	sess := session.New("s-1", now)
	sess.State.Set("patient_intake", session.Structured(map[string]any{
		"patient_id": "P12345",
		"symptoms":   "chest pain",
		"duration":   "3 hours",
	}))
	run := sess.Run("intake")
	run.Iterations = 1
	run.Status = session.StatusEscalated
	sess.AddTurn("hello", "[Intake complete]", now)

	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.ID)
	assert.Equal(t, session.StatusEscalated, got.RunStatus("intake"))
	assert.Equal(t, 1, got.Runs["intake"].Iterations)
	require.Len(t, got.Turns, 1)

	v, ok := got.State.Get("patient_intake")
	require.True(t, ok)
	assert.Equal(t, "P12345", v.StringField("patient_id"))
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStore_ListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	now := time.Now()
	require.NoError(t, store.Save(ctx, session.New("b", now)))
	require.NoError(t, store.Save(ctx, session.New("a", now)))

	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestStore_SaveRejectsInvalidKey(t *testing.T) {
	store := newTestStore(t)

	err := store.Save(context.Background(), session.New("has space", time.Now()))
	assert.ErrorIs(t, err, session.ErrInvalidSessionID)
}
