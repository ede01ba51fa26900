// Package keylock serializes work per key inside one process.
//
// Every caller takes all the keys it needs in a single Lock call; keys are
// acquired in ascending order so two callers touching the same keys can
// never deadlock. A context returned by Lock remembers what it holds, and a
// nested Lock for keys already held is a no-op.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotHeld is returned by a nested Lock that asks for a key its context
// does not already hold. Acquiring more keys mid-section would break the
// global order.
var ErrNotHeld = errors.New("keylock: nested lock on a key not held")

// Table hands out one exclusive slot per key. The zero value is not usable;
// call New.
type Table struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func New() *Table {
	return &Table{slots: make(map[string]*slot)}
}

type heldKey struct{ t *Table }

// Lock acquires every key, waiting until all are free or ctx is done. The
// returned context must be passed to anything that may lock again inside
// the section. Unlock releases every key acquired by this call.
func (t *Table) Lock(ctx context.Context, keys ...string) (context.Context, func(), error) {
	sorted := normalize(keys)

	if held, ok := ctx.Value(heldKey{t}).(map[string]struct{}); ok {
		for _, k := range sorted {
			if _, ok := held[k]; !ok {
				return ctx, func() {}, fmt.Errorf("%w: %s", ErrNotHeld, k)
			}
		}
		return ctx, func() {}, nil
	}

	acquired := make([]string, 0, len(sorted))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			t.release(acquired[i])
		}
	}
	for _, k := range sorted {
		if err := t.acquire(ctx, k); err != nil {
			release()
			return ctx, func() {}, err
		}
		acquired = append(acquired, k)
	}

	held := make(map[string]struct{}, len(sorted))
	for _, k := range sorted {
		held[k] = struct{}{}
	}
	var once sync.Once
	return context.WithValue(ctx, heldKey{t}, held), func() { once.Do(release) }, nil
}

// Held reports whether ctx holds key in this table.
func (t *Table) Held(ctx context.Context, key string) bool {
	held, ok := ctx.Value(heldKey{t}).(map[string]struct{})
	if !ok {
		return false
	}
	_, ok = held[key]
	return ok
}

func (t *Table) acquire(ctx context.Context, key string) error {
	t.mu.Lock()
	s, ok := t.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		t.slots[key] = s
	}
	s.refs++
	t.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.drop(key, s)
		return ctx.Err()
	}
}

func (t *Table) release(key string) {
	t.mu.Lock()
	s := t.slots[key]
	t.mu.Unlock()
	<-s.ch
	t.drop(key, s)
}

// drop forgets the slot once nobody holds or waits on it.
func (t *Table) drop(key string, s *slot) {
	t.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(t.slots, key)
	}
	t.mu.Unlock()
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Size reports how many keys are currently held or awaited.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
