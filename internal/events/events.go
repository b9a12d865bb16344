// Package events publishes pipeline stage transitions over NATS.
//
// Events are published to subjects of the form:
//
//	{prefix}.sessions.{session_id}.stages.{stage}.{status}
//
// Session-level completion is published with stage "pipeline", so a
// subscriber can follow a single session with
// "{prefix}.sessions.{session_id}.>" and stop on
// "{prefix}.sessions.{session_id}.stages.pipeline.*".
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "clinicpulse"

// ErrNotConnected is returned when publishing without a connection.
var ErrNotConnected = errors.New("events: not connected")

// Subject builds the subject an event is published on.
func Subject(prefix string, e pipeline.Event) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s.sessions.%s.stages.%s.%s", prefix, e.SessionID, e.Stage, e.Status)
}

// SessionSubject matches every event for one session.
func SessionSubject(prefix, sessionID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s.sessions.%s.>", prefix, sessionID)
}

// AllSubject matches every event under prefix.
func AllSubject(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ".sessions.>"
}

// Terminal reports whether e ends a session's event stream.
func Terminal(e pipeline.Event) bool {
	return e.Stage == pipeline.PipelineStage
}

// Publisher sends pipeline events to NATS.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher returns a publisher on nc. An empty prefix uses DefaultPrefix.
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{nc: nc, prefix: prefix}
}

// Publish implements pipeline.Publisher. The event id is set as the
// Nats-Msg-Id header so JetStream streams on the subject deduplicate
// redeliveries.
func (p *Publisher) Publish(ctx context.Context, e pipeline.Event) error {
	if p == nil || p.nc == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(Subject(p.prefix, e))
	msg.Data = data
	if e.ID != "" {
		msg.Header.Set(nats.MsgIdHdr, e.ID)
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Nop discards events.
type Nop struct{}

// Publish implements pipeline.Publisher.
func (Nop) Publish(context.Context, pipeline.Event) error { return nil }

// Connect dials NATS with the reconnect policy used across clinicpulse
// binaries.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return nc, nil
}

// Decode parses a message published by Publisher.
func Decode(msg *nats.Msg) (pipeline.Event, error) {
	var e pipeline.Event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		return e, fmt.Errorf("decode event on %s: %w", msg.Subject, err)
	}
	return e, nil
}

// Status extracts the trailing status token from an event subject.
func Status(subject string) string {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 {
		return subject
	}
	return subject[i+1:]
}
