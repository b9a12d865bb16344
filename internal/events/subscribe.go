package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
)

// Handler receives decoded events. Returning false stops the stream.
type Handler func(pipeline.Event) bool

// Subscription buffers events for one subject.
type Subscription struct {
	sub  *nats.Subscription
	msgs chan *nats.Msg
}

// Subscribe registers interest in subject. The subscription is known to
// the server when Subscribe returns, so events published afterwards are
// not missed.
func Subscribe(nc *nats.Conn, subject string) (*Subscription, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription %s: %w", subject, err)
	}
	return &Subscription{sub: sub, msgs: msgs}, nil
}

// Each calls fn for each event until fn returns false or ctx is done.
// Undecodable messages are skipped.
func (s *Subscription) Each(ctx context.Context, fn Handler) error {
	for {
		select {
		case msg := <-s.msgs:
			e, err := Decode(msg)
			if err != nil {
				continue
			}
			if !fn(e) {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Close unsubscribes.
func (s *Subscription) Close() error {
	return s.sub.Unsubscribe()
}

// Stream subscribes to subject and hands events to fn until fn returns
// false or ctx is done.
func Stream(ctx context.Context, nc *nats.Conn, subject string, fn Handler) error {
	sub, err := Subscribe(nc, subject)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Close()
	}()
	return sub.Each(ctx, fn)
}
