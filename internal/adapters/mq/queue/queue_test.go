package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/okian/versus/internal/domain/model"
)

func snap(player string, seq int64) model.RatingSnapshot {
	return model.RatingSnapshot{PlayerID: player, Rating: 1500, GameSeq: seq, Timestamp: time.Now()}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, snap("alice", 1)) {
		t.Error("expected enqueue to succeed")
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	got := <-q.Dequeue(ctx)
	if got.PlayerID != "alice" || got.GameSeq != 1 {
		t.Errorf("expected alice/1, got %v/%d", got.PlayerID, got.GameSeq)
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2), WithBufferSize(1))
	ctx := context.Background()

	if !q.Enqueue(ctx, snap("alice", 1)) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, snap("bob", 1)) {
		t.Error("expected enqueue to succeed")
	}

	if q.Enqueue(ctx, snap("carol", 2)) {
		t.Error("expected enqueue to fail when full")
	}

	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	const producers = 10
	const perProducer = 100

	done := make(chan bool, producers)
	for i := 0; i < producers; i++ {
		go func(id int) {
			for j := 0; j < perProducer; j++ {
				for !q.Enqueue(ctx, snap(fmt.Sprintf("player%d", id), int64(j))) {
					time.Sleep(time.Millisecond)
				}
			}
			done <- true
		}(i)
	}

	consumed := make(chan string, producers*perProducer)
	for i := 0; i < 4; i++ {
		go func() {
			for s := range q.Dequeue(ctx) {
				consumed <- s.PlayerID
			}
		}()
	}

	for i := 0; i < producers; i++ {
		<-done
	}

	deadline := time.After(2 * time.Second)
	for n := 0; n < producers*perProducer; n++ {
		select {
		case <-consumed:
		case <-deadline:
			t.Fatalf("only %d of %d snapshots consumed", n, producers*perProducer)
		}
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
	_ = q.Close()
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, snap("alice", 1)) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, snap("bob", 1)) {
		t.Error("expected enqueue to succeed")
	}

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}

	if q.Enqueue(ctx, snap("carol", 2)) {
		t.Error("expected enqueue to fail after closing")
	}

	// queued snapshots are still delivered, then the channel closes
	var drained []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				if len(drained) != 2 {
					t.Errorf("expected 2 drained snapshots, got %v", drained)
				}
				if err := q.Close(); err != nil {
					t.Errorf("expected second close to succeed, got error: %v", err)
				}
				return
			}
			drained = append(drained, s.PlayerID)
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
}

func TestInMemoryQueue_CancelledContext(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a full queue with a cancelled context refuses without blocking
	if !q.Enqueue(context.Background(), snap("alice", 1)) {
		t.Fatal("expected first enqueue to succeed")
	}
	if q.Enqueue(ctx, snap("bob", 1)) {
		t.Error("expected enqueue to fail")
	}
}
