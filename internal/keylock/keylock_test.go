package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLockSerializesSameKey(t *testing.T) {
	table := New()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, unlock, err := table.Lock(context.Background(), "user:a")
			if err != nil {
				return err
			}
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, table.Size())
}

func TestOppositeOrderDoesNotDeadlock(t *testing.T) {
	table := New()
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		keys := []string{"user:a", "user:b"}
		if i%2 == 1 {
			keys = []string{"user:b", "user:a"}
		}
		g.Go(func() error {
			_, unlock, err := table.Lock(context.Background(), keys...)
			if err != nil {
				return err
			}
			unlock()
			return nil
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock")
	}
}

func TestNestedLock(t *testing.T) {
	table := New()
	ctx, unlock, err := table.Lock(context.Background(), "a", "b")
	require.NoError(t, err)
	defer unlock()

	assert.True(t, table.Held(ctx, "a"))
	assert.False(t, table.Held(context.Background(), "a"))

	_, inner, err := table.Lock(ctx, "b")
	require.NoError(t, err)
	inner()
	assert.True(t, table.Held(ctx, "b"))

	_, _, err = table.Lock(ctx, "c")
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestLockHonorsContext(t *testing.T) {
	table := New()
	_, unlock, err := table.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = table.Lock(ctx, "b", "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, table.Size())
}
