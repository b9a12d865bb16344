package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SaveGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "s-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s := New("s-1", time.Now())
	s.State.Set("a", FreeText("1"))
	require.NoError(t, store.Save(ctx, s))

	// Mutating the caller's copy does not leak into the store
	s.State.Set("b", FreeText("2"))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, got.State.Has("a"))
	assert.False(t, got.State.Has("b"))
}

func TestMemoryStore_ListDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, New("b", time.Now())))
	require.NoError(t, store.Save(ctx, New("a", time.Now())))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	ids, _ = store.List(ctx)
	assert.Equal(t, []string{"b"}, ids)
	assert.NoError(t, store.Close())
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	store := NewMemoryStore()
	assert.ErrorIs(t, store.Save(context.Background(), New("", time.Now())), ErrEmptySessionID)
}

func TestLocker_SerialisesSameID(t *testing.T) {
	locker := NewLocker()
	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("s-1")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Equal(t, 0, locker.Held())
}

func TestLocker_IndependentIDs(t *testing.T) {
	locker := NewLocker()

	unlockA := locker.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locker.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}

func TestInstrument_PassesThrough(t *testing.T) {
	store := Instrument(NewMemoryStore(), "memory")
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, New("s-1", time.Now())))
	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.ID)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	require.NoError(t, store.Delete(ctx, "s-1"))
	require.NoError(t, store.Close())
}
