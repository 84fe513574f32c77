package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLockTable(t *testing.T) {
	Convey("Given a lock table", t, func() {
		ctx := context.Background()
		table := newLockTable()

		Convey("When a player is locked", func() {
			release, err := table.acquire(ctx, time.Second, "alice", "bob")
			So(err, ShouldBeNil)

			Convey("Then a second holder times out", func() {
				_, err := table.acquire(ctx, 10*time.Millisecond, "bob", "carol")
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "bob")

				Convey("And carol was not left locked", func() {
					rel, err := table.acquire(ctx, 10*time.Millisecond, "carol")
					So(err, ShouldBeNil)
					rel()
				})
			})

			Convey("Then a cancelled context stops the wait", func() {
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_, err := table.acquire(cctx, 0, "alice")
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})

			Convey("Then unrelated players are free", func() {
				rel, err := table.acquire(ctx, 10*time.Millisecond, "dave")
				So(err, ShouldBeNil)
				rel()
			})

			Convey("Then releasing makes the players available again", func() {
				release()
				rel, err := table.acquire(ctx, 10*time.Millisecond, "bob", "alice")
				So(err, ShouldBeNil)
				rel()
				So(table.entries, ShouldBeEmpty)
			})
		})

		Convey("When the same id is passed twice", func() {
			rel, err := table.acquire(ctx, 10*time.Millisecond, "alice", "alice")

			Convey("Then it is locked once", func() {
				So(err, ShouldBeNil)
				rel()
				So(table.entries, ShouldBeEmpty)
			})
		})

		Convey("When pairs are locked in opposite orders concurrently", func() {
			var wg sync.WaitGroup
			var failures int
			var mu sync.Mutex
			for i := 0; i < 200; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					a, b := "x", "y"
					if i%2 == 0 {
						a, b = b, a
					}
					rel, err := table.acquire(ctx, 5*time.Second, a, b)
					if err != nil {
						mu.Lock()
						failures++
						mu.Unlock()
						return
					}
					rel()
				}(i)
			}
			wg.Wait()

			Convey("Then nobody deadlocks and the table drains", func() {
				So(failures, ShouldEqual, 0)
				So(table.entries, ShouldBeEmpty)
			})
		})
	})
}
