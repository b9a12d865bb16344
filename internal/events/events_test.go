package events

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
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

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	server := startTestNATSServer(t)
	nc, err := Connect(server.ClientURL(), "events-test")
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func testEvent() pipeline.Event {
	return pipeline.Event{
		ID:         "evt-1",
		SessionID:  "sess-1",
		Stage:      "triage",
		Status:     "escalated",
		Iteration:  1,
		Diagnostic: "complete",
		At:         time.Date(2025, 11, 20, 9, 30, 0, 0, time.UTC),
	}
}

func TestSubject(t *testing.T) {
	e := testEvent()
	assert.Equal(t, "clinicpulse.sessions.sess-1.stages.triage.escalated", Subject("", e))
	assert.Equal(t, "clinic.sessions.sess-1.stages.triage.escalated", Subject("clinic", e))
	assert.Equal(t, "clinicpulse.sessions.sess-1.>", SessionSubject("", "sess-1"))
	assert.Equal(t, "clinicpulse.sessions.>", AllSubject(""))
	assert.Equal(t, "escalated", Status(Subject("", e)))
}

func TestPublisher_Publish(t *testing.T) {
	nc := connect(t)
	sub, err := nc.SubscribeSync(SessionSubject("", "sess-1"))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub := NewPublisher(nc, "")
	require.NoError(t, pub.Publish(context.Background(), testEvent()))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "clinicpulse.sessions.sess-1.stages.triage.escalated", msg.Subject)
	assert.Equal(t, "evt-1", msg.Header.Get(nats.MsgIdHdr))

	var got pipeline.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, testEvent(), got)
}

func TestPublisher_NotConnected(t *testing.T) {
	var pub *Publisher
	assert.ErrorIs(t, pub.Publish(context.Background(), testEvent()), ErrNotConnected)
	assert.ErrorIs(t, NewPublisher(nil, "").Publish(context.Background(), testEvent()), ErrNotConnected)
}

func TestPublisher_CancelledContext(t *testing.T) {
	nc := connect(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewPublisher(nc, "").Publish(ctx, testEvent()), context.Canceled)
}

func TestStream_StopsOnTerminalEvent(t *testing.T) {
	nc := connect(t)
	pub := NewPublisher(nc, "")

	var seen atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Stream(context.Background(), nc, SessionSubject("", "sess-1"), func(e pipeline.Event) bool {
			seen.Add(1)
			return !Terminal(e)
		})
	}()

	// The subscription is set up asynchronously; keep publishing until
	// the stream observes something.
	require.Eventually(t, func() bool {
		_ = pub.Publish(context.Background(), testEvent())
		return seen.Load() > 0
	}, 2*time.Second, 20*time.Millisecond)

	final := testEvent()
	final.Stage = pipeline.PipelineStage
	final.Status = "complete"
	require.NoError(t, pub.Publish(context.Background(), final))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on the pipeline event")
	}
}

func TestSubscribe_ReceivesAfterReturn(t *testing.T) {
	nc := connect(t)
	sub, err := Subscribe(nc, AllSubject("clinic"))
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, NewPublisher(nc, "clinic").Publish(context.Background(), testEvent()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got []pipeline.Event
	require.NoError(t, sub.Each(ctx, func(e pipeline.Event) bool {
		got = append(got, e)
		return false
	}))
	require.Len(t, got, 1)
	assert.Equal(t, "triage", got[0].Stage)
}

func TestStream_ContextCancel(t *testing.T) {
	nc := connect(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, nc, AllSubject(""), func(pipeline.Event) bool { return true })
	}()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), testEvent()))
}
