// Package natskv is a NATS JetStream key-value backed session.Store.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

// DefaultBucket is the KV bucket used when none is configured.
const DefaultBucket = "clinicpulse_sessions"

// Store keeps one KV entry per session, keyed by session id.
type Store struct {
	bucket jetstream.KeyValue
}

var _ session.Store = (*Store)(nil)

// New creates or binds the bucket on the given connection.
func New(ctx context.Context, nc *nats.Conn, bucket string) (*Store, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	// CreateOrUpdateKeyValue is idempotent across restarts
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "ClinicPulse session state",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	return &Store{bucket: kv}, nil
}

// Get loads a session.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	entry, err := s.bucket.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session.Decode(entry.Value())
}

// Save writes the session, replacing the previous revision.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	if err := session.ValidateID(sess.ID); err != nil {
		return err
	}
	data, err := session.Encode(sess)
	if err != nil {
		return err
	}
	if _, err := s.bucket.Put(ctx, sess.ID, data); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// List returns all session ids in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		// No keys is not an error - return empty slice
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.bucket.Delete(ctx, id); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the caller.
func (s *Store) Close() error {
	return nil
}
