package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// lockEntry is a one-slot semaphore for a single player. refs counts the
// holders and waiters so idle entries can be dropped from the table.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

// lockTable hands out exclusive per-player locks. Sets of players are always
// locked in ascending id order, so two transactions sharing players cannot
// deadlock.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[string]*lockEntry)}
}

func (t *lockTable) ref(id string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		t.entries[id] = e
	}
	e.refs++
	return e
}

func (t *lockTable) unref(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[id]
	e.refs--
	if e.refs == 0 {
		delete(t.entries, id)
	}
}

// acquire locks every id or none of them. It gives up when ctx is done or
// timeout elapses (timeout <= 0 waits on ctx alone). The returned func
// releases the locks in reverse order.
func (t *lockTable) acquire(ctx context.Context, timeout time.Duration, ids ...string) (func(), error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	held := make([]*lockEntry, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			t.unref(ids[i])
		}
	}

	for _, id := range ids {
		e := t.ref(id)
		select {
		case e.ch <- struct{}{}:
			held = append(held, e)
		case <-ctx.Done():
			t.unref(id)
			release()
			return nil, fmt.Errorf("waiting for player %q: %w", id, ctx.Err())
		case <-expired:
			t.unref(id)
			release()
			return nil, fmt.Errorf("waiting for player %q: lock wait exceeded %s", id, timeout)
		}
	}
	return release, nil
}
