// Package queue defines the contract for enqueuing and consuming rating
// snapshots on their way to the audit trail.
package queue

import (
	"context"
	"sync"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
	defaultBufferSize    = 10000
)

// Snapshot is the payload flowing through the queue.
type Snapshot = model.RatingSnapshot

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a snapshot to the queue.
	// Returns false if the queue is full or closed and nothing was enqueued.
	Enqueue(ctx context.Context, s Snapshot) bool

	// Dequeue returns a channel that will receive snapshots as they become available.
	// The channel will be closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Snapshot

	// Len returns the current number of queued snapshots.
	Len(ctx context.Context) int

	// Close gracefully shuts down the queue.
	// After closing, no new snapshots can be enqueued.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	snapshots  chan Snapshot
	capacity   int
	bufferSize int
	mu         sync.RWMutex
	closed     bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(q)
	}

	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}
	q.snapshots = make(chan Snapshot, q.bufferSize)

	metrics.UpdateSnapshotQueueCapacity(q.capacity)
	metrics.UpdateSnapshotQueueSize(0)

	return q
}

// Enqueue adds a snapshot to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, s Snapshot) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	if len(q.snapshots) >= q.capacity {
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false
	}

	select {
	case q.snapshots <- s:
		metrics.UpdateSnapshotQueueSize(len(q.snapshots))
		return true
	case <-ctx.Done():
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that will receive snapshots as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		for s := range q.snapshots {
			select {
			case out <- s:
				metrics.UpdateSnapshotQueueSize(len(q.snapshots))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued snapshots.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.snapshots)
	metrics.UpdateSnapshotQueueSize(size)
	return size
}

// Close gracefully shuts down the queue. Snapshots already queued can still
// be dequeued.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.snapshots)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
