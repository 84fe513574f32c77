// Package dedupe tracks request ids so a retried game report is applied at
// most once.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50000

// Entry is what the deduper knows about a request id.
type Entry struct {
	// Seq is the ledger sequence id the request produced. Zero while Pending.
	Seq     int64
	Pending bool
}

// Deduper records request ids for at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and reserves it if not.
	// When id was seen it returns the existing entry and true.
	SeenAndRecord(ctx context.Context, id string) (Entry, bool)

	// Resolve attaches the resulting sequence id to a reserved id.
	Resolve(ctx context.Context, id string, seq int64)

	// Unrecord removes an id, allowing it to be retried. Used when the
	// request failed after SeenAndRecord reserved it.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// node is an entry in the insertion-ordered list; head is the oldest.
type node struct {
	id         string
	entry      Entry
	prev, next *node
}

// inMemoryDeduper keeps ids in a map plus an insertion-ordered list.
// For bounded mode (maxSize > 0) the oldest entry is evicted when full.
// For unbounded mode (maxSize <= 0) nothing is ever evicted.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*node
	head    *node
	tail    *node
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*node)
	return d
}

// SeenAndRecord implements Deduper.SeenAndRecord.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.seen[id]; ok {
		return n.entry, true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	n := &node{id: id, entry: Entry{Pending: true}, prev: d.tail}
	if d.tail != nil {
		d.tail.next = n
	} else {
		d.head = n
	}
	d.tail = n
	d.seen[id] = n
	d.size.Add(1)
	return Entry{}, false
}

// Resolve implements Deduper.Resolve.
func (d *inMemoryDeduper) Resolve(_ context.Context, id string, seq int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.seen[id]; ok {
		n.entry = Entry{Seq: seq}
	}
}

// Unrecord implements Deduper.Unrecord.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.seen[id]; ok {
		d.remove(n)
	}
}

// evictOldest drops the oldest resolved entry, or the oldest entry if all
// of them are still pending. Must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	for n := d.head; n != nil; n = n.next {
		if !n.entry.Pending {
			d.remove(n)
			return
		}
	}
	if d.head != nil {
		d.remove(d.head)
	}
}

// remove unlinks n. Must be called with d.mu held.
func (d *inMemoryDeduper) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	n.prev, n.next = nil, nil
	delete(d.seen, n.id)
	d.size.Add(-1)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
