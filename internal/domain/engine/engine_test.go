package engine_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/domain/engine"
	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/ledger"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/registry"
	"github.com/okian/versus/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

var errDisk = errs.NewKind("test.disk", errs.ErrStorage)

// faultyStore injects failures into a MemoryStore.
type faultyStore struct {
	*repository.MemoryStore

	mu          sync.Mutex
	updates     map[string]int
	onUpdate    func(playerID string, call int) error
	appendErr   error
	deactivate  error
	blockWinner string
	blockAppend chan struct{}
}

func newFaultyStore(ctx context.Context) *faultyStore {
	return &faultyStore{
		MemoryStore: repository.NewMemoryStore(ctx),
		updates:     make(map[string]int),
	}
}

func (s *faultyStore) ConditionalUpdate(ctx context.Context, id string, expected, next int) error {
	s.mu.Lock()
	s.updates[id]++
	call := s.updates[id]
	hook := s.onUpdate
	s.mu.Unlock()
	if hook != nil {
		if err := hook(id, call); err != nil {
			return err
		}
	}
	return s.MemoryStore.ConditionalUpdate(ctx, id, expected, next)
}

func (s *faultyStore) Append(ctx context.Context, rec model.GameRecord) (model.GameRecord, error) {
	if s.blockAppend != nil && rec.WinnerID == s.blockWinner {
		<-s.blockAppend
	}
	if s.appendErr != nil {
		return model.GameRecord{}, s.appendErr
	}
	return s.MemoryStore.Append(ctx, rec)
}

func (s *faultyStore) Deactivate(ctx context.Context, seq int64) error {
	if s.deactivate != nil {
		return s.deactivate
	}
	return s.MemoryStore.Deactivate(ctx, seq)
}

// recordingPublisher accepts or refuses every snapshot.
type recordingPublisher struct {
	mu     sync.Mutex
	accept bool
	got    []model.RatingSnapshot
}

func (p *recordingPublisher) Enqueue(_ context.Context, s model.RatingSnapshot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.accept {
		return false
	}
	p.got = append(p.got, s)
	return true
}

func newEngine(store *faultyStore, opts ...engine.Option) *engine.Engine {
	return engine.New(registry.New(store), ledger.New(store), store, opts...)
}

func rating(ctx context.Context, store *faultyStore, id string) int {
	p, err := store.Get(ctx, id)
	So(err, ShouldBeNil)
	return p.Rating
}

func TestApplyGame(t *testing.T) {
	Convey("Given an engine over an empty store", t, func() {
		ctx := context.Background()
		store := newFaultyStore(ctx)
		defer store.Close()
		eng := newEngine(store)

		Convey("When alice beats bob for the first time", func() {
			res, err := eng.ApplyGame(ctx, "alice", "bob", "general")

			Convey("Then both are registered and move ten points", func() {
				So(err, ShouldBeNil)
				So(res.WinnerRating, ShouldEqual, 1510)
				So(res.LoserRating, ShouldEqual, 1490)
				So(rating(ctx, store, "alice"), ShouldEqual, 1510)
				So(rating(ctx, store, "bob"), ShouldEqual, 1490)
			})

			Convey("Then the ledger holds one active record with the applied deltas", func() {
				So(res.Game.Seq, ShouldEqual, 1)
				So(res.Game.Active, ShouldBeTrue)
				So(res.Game.ChannelID, ShouldEqual, "general")
				So(res.Game.DeltaWinner, ShouldEqual, 10)
				So(res.Game.DeltaLoser, ShouldEqual, -10)
			})

			Convey("Then a snapshot is written for each player", func() {
				snaps, err := store.Snapshots(ctx, "alice")
				So(err, ShouldBeNil)
				So(len(snaps), ShouldEqual, 1)
				So(snaps[0].Rating, ShouldEqual, 1510)
				So(snaps[0].GameSeq, ShouldEqual, 1)
				So(snaps[0].Undo, ShouldBeFalse)

				snaps, _ = store.Snapshots(ctx, "bob")
				So(len(snaps), ShouldEqual, 1)
				So(snaps[0].Rating, ShouldEqual, 1490)
			})
		})

		Convey("When the favourite wins", func() {
			_, _ = store.Put(ctx, model.Player{ID: "strong", Rating: 1600})
			_, _ = store.Put(ctx, model.Player{ID: "weak", Rating: 1400})
			res, err := eng.ApplyGame(ctx, "strong", "weak", "general")

			Convey("Then the deltas are truncated independently", func() {
				So(err, ShouldBeNil)
				So(res.Game.DeltaWinner, ShouldEqual, 4)
				So(res.Game.DeltaLoser, ShouldEqual, -4)
				So(res.WinnerRating, ShouldEqual, 1604)
				So(res.LoserRating, ShouldEqual, 1396)
			})
		})

		Convey("When the ids are invalid", func() {
			_, errEmpty := eng.ApplyGame(ctx, "", "bob", "general")
			_, errSelf := eng.ApplyGame(ctx, "bob", "bob", "general")
			_, errNoChannel := eng.ApplyGame(ctx, "alice", "bob", "")

			Convey("Then the call is rejected without touching the store", func() {
				So(errors.Is(errEmpty, errs.ErrInvalidArgument), ShouldBeTrue)
				So(errors.Is(errSelf, errs.ErrInvalidArgument), ShouldBeTrue)
				So(errors.Is(errNoChannel, errs.ErrInvalidArgument), ShouldBeTrue)
				n, _ := store.Count(ctx)
				So(n, ShouldEqual, 0)
			})
		})
	})
}

func TestUndoLastGame(t *testing.T) {
	Convey("Given alice has beaten bob", t, func() {
		ctx := context.Background()
		store := newFaultyStore(ctx)
		defer store.Close()
		eng := newEngine(store)

		applied, err := eng.ApplyGame(ctx, "alice", "bob", "general")
		So(err, ShouldBeNil)

		Convey("When the undo names no channel", func() {
			_, err := eng.UndoLastGame(ctx, "alice", "bob", "")

			Convey("Then it is rejected and the game stays in place", func() {
				So(errors.Is(err, errs.ErrInvalidArgument), ShouldBeTrue)
				So(rating(ctx, store, "alice"), ShouldEqual, 1510)

				rec, err := eng.UndoLastGame(ctx, "alice", "bob", "general")
				So(err, ShouldBeNil)
				So(rec.Seq, ShouldEqual, applied.Game.Seq)
			})
		})

		Convey("When the game is undone", func() {
			rec, err := eng.UndoLastGame(ctx, "alice", "bob", "general")

			Convey("Then both ratings are back to their exact starting values", func() {
				So(err, ShouldBeNil)
				So(rating(ctx, store, "alice"), ShouldEqual, 1500)
				So(rating(ctx, store, "bob"), ShouldEqual, 1500)
			})

			Convey("Then the returned record is the undone game", func() {
				So(rec.Seq, ShouldEqual, applied.Game.Seq)
				So(rec.Active, ShouldBeFalse)
				So(rec.UndoneAt.IsZero(), ShouldBeFalse)
			})

			Convey("Then undo snapshots are recorded", func() {
				snaps, _ := store.Snapshots(ctx, "alice")
				So(len(snaps), ShouldEqual, 2)
				So(snaps[1].Undo, ShouldBeTrue)
				So(snaps[1].Rating, ShouldEqual, 1500)
			})

			Convey("Then a second undo finds nothing to undo", func() {
				_, err := eng.UndoLastGame(ctx, "bob", "alice", "general")
				So(errors.Is(err, errs.ErrNoActiveGame), ShouldBeTrue)
				So(rating(ctx, store, "alice"), ShouldEqual, 1500)
				So(rating(ctx, store, "bob"), ShouldEqual, 1500)
			})
		})

		Convey("When undo is asked for in a different channel", func() {
			_, err := eng.UndoLastGame(ctx, "alice", "bob", "random")

			Convey("Then there is no active game there", func() {
				So(errors.Is(err, errs.ErrNoActiveGame), ShouldBeTrue)
			})
		})

		Convey("When other games happen before the undo", func() {
			second, err := eng.ApplyGame(ctx, "alice", "carol", "general")
			So(err, ShouldBeNil)
			_, err = eng.ApplyGame(ctx, "bob", "carol", "general")
			So(err, ShouldBeNil)

			aliceBefore := rating(ctx, store, "alice")
			bobBefore := rating(ctx, store, "bob")
			_, err = eng.UndoLastGame(ctx, "alice", "bob", "general")

			Convey("Then exactly the stored deltas are reverted", func() {
				So(err, ShouldBeNil)
				So(rating(ctx, store, "alice"), ShouldEqual, aliceBefore-applied.Game.DeltaWinner)
				So(rating(ctx, store, "bob"), ShouldEqual, bobBefore-applied.Game.DeltaLoser)
				So(rating(ctx, store, "alice"), ShouldEqual, 1500+second.Game.DeltaWinner)
			})
		})

		Convey("When the pair played twice and the last game is undone", func() {
			_, err := eng.ApplyGame(ctx, "bob", "alice", "general")
			So(err, ShouldBeNil)
			rec, err := eng.UndoLastGame(ctx, "alice", "bob", "general")

			Convey("Then only the newest game is reverted", func() {
				So(err, ShouldBeNil)
				So(rec.Seq, ShouldEqual, 2)
				So(rating(ctx, store, "alice"), ShouldEqual, 1510)
				So(rating(ctx, store, "bob"), ShouldEqual, 1490)
			})
		})
	})
}

func TestCompensation(t *testing.T) {
	Convey("Given an engine whose store fails part way", t, func() {
		ctx := context.Background()
		store := newFaultyStore(ctx)
		defer store.Close()
		eng := newEngine(store)

		_, err := eng.ApplyGame(ctx, "alice", "bob", "general")
		So(err, ShouldBeNil)

		Convey("When the ledger append fails after both ratings moved", func() {
			store.appendErr = errDisk
			_, err := eng.ApplyGame(ctx, "alice", "bob", "general")

			Convey("Then the ratings are rolled back and a transaction error is returned", func() {
				So(errors.Is(err, errs.ErrTransaction), ShouldBeTrue)
				So(errors.Is(err, errs.ErrStorage), ShouldBeTrue)
				So(errs.KindOf(err), ShouldEqual, errs.ErrTransaction)
				So(rating(ctx, store, "alice"), ShouldEqual, 1510)
				So(rating(ctx, store, "bob"), ShouldEqual, 1490)

				recs, _ := ledger.Collect(store.Scan(ctx, repository.Filter{}))
				So(len(recs), ShouldEqual, 1)
			})
		})

		Convey("When a game between new players fails to append", func() {
			store.appendErr = errDisk
			_, err := eng.ApplyGame(ctx, "carol", "dave", "general")

			Convey("Then their ratings are restored but they stay registered", func() {
				So(errors.Is(err, errs.ErrTransaction), ShouldBeTrue)
				So(rating(ctx, store, "carol"), ShouldEqual, 1500)
				So(rating(ctx, store, "dave"), ShouldEqual, 1500)
				n, _ := store.Count(ctx)
				So(n, ShouldEqual, 4)
			})
		})

		Convey("When the first rating update fails", func() {
			store.onUpdate = func(id string, _ int) error {
				if id == "alice" {
					return errDisk
				}
				return nil
			}
			_, err := eng.ApplyGame(ctx, "alice", "bob", "general")

			Convey("Then nothing needed compensating and the storage error is returned", func() {
				So(errors.Is(err, errs.ErrStorage), ShouldBeTrue)
				So(errors.Is(err, errs.ErrTransaction), ShouldBeFalse)
				So(rating(ctx, store, "bob"), ShouldEqual, 1490)
			})
		})

		Convey("When the loser update fails after the winner moved", func() {
			store.onUpdate = func(id string, _ int) error {
				if id == "bob" {
					return errDisk
				}
				return nil
			}
			_, err := eng.ApplyGame(ctx, "alice", "bob", "general")

			Convey("Then the winner is restored", func() {
				So(errors.Is(err, errs.ErrTransaction), ShouldBeTrue)
				So(rating(ctx, store, "alice"), ShouldEqual, 1510)
				So(rating(ctx, store, "bob"), ShouldEqual, 1490)
			})
		})

		Convey("When the compensation itself fails", func() {
			store.appendErr = errDisk
			store.onUpdate = func(id string, call int) error {
				// 1st: first game, 2nd: forward update, 3rd: compensation
				if id == "alice" && call == 3 {
					return errDisk
				}
				return nil
			}
			_, err := eng.ApplyGame(ctx, "alice", "bob", "general")

			Convey("Then the error is still a transaction error and the other side is restored", func() {
				So(errors.Is(err, errs.ErrTransaction), ShouldBeTrue)
				So(rating(ctx, store, "bob"), ShouldEqual, 1490)
			})
		})

		Convey("When marking the record undone fails", func() {
			store.deactivate = errDisk
			_, err := eng.UndoLastGame(ctx, "alice", "bob", "general")

			Convey("Then the reverted ratings are put back and the game stays active", func() {
				So(errors.Is(err, errs.ErrTransaction), ShouldBeTrue)
				So(rating(ctx, store, "alice"), ShouldEqual, 1510)
				So(rating(ctx, store, "bob"), ShouldEqual, 1490)

				rec, err := store.Record(ctx, 1)
				So(err, ShouldBeNil)
				So(rec.Active, ShouldBeTrue)
			})
		})
	})
}

func TestConcurrentApply(t *testing.T) {
	Convey("Given many concurrent games between the same two players", t, func() {
		ctx := context.Background()
		store := newFaultyStore(ctx)
		defer store.Close()
		eng := newEngine(store, engine.WithLockTimeout(10*time.Second))

		const n = 64
		var wg sync.WaitGroup
		errCh := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				winner, loser := "alice", "bob"
				if i%3 == 0 {
					winner, loser = loser, winner
				}
				if _, err := eng.ApplyGame(ctx, winner, loser, "general"); err != nil {
					errCh <- err
				}
			}(i)
		}
		wg.Wait()
		close(errCh)

		Convey("Then every game is recorded and no rating change is lost", func() {
			for err := range errCh {
				So(err, ShouldBeNil)
			}
			recs, err := ledger.Collect(store.Scan(ctx, repository.Filter{ActiveOnly: true}))
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, n)

			sums := map[string]int{}
			for _, r := range recs {
				sums[r.WinnerID] += r.DeltaWinner
				sums[r.LoserID] += r.DeltaLoser
			}
			So(rating(ctx, store, "alice"), ShouldEqual, 1500+sums["alice"])
			So(rating(ctx, store, "bob"), ShouldEqual, 1500+sums["bob"])
		})
	})

	Convey("Given concurrent games over overlapping players", t, func() {
		ctx := context.Background()
		store := newFaultyStore(ctx)
		defer store.Close()
		eng := newEngine(store, engine.WithLockTimeout(10*time.Second))

		players := []string{"a", "b", "c", "d"}
		var wg sync.WaitGroup
		for i := 0; i < 80; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				w := players[i%4]
				l := players[(i+1+i/4)%4]
				if w == l {
					l = players[(i+2)%4]
				}
				_, _ = eng.ApplyGame(ctx, w, l, "general")
			}(i)
		}
		wg.Wait()

		Convey("Then each rating equals the start plus its recorded deltas", func() {
			recs, err := ledger.Collect(store.Scan(ctx, repository.Filter{ActiveOnly: true}))
			So(err, ShouldBeNil)
			So(len(recs), ShouldEqual, 80)
			sums := map[string]int{}
			for _, r := range recs {
				sums[r.WinnerID] += r.DeltaWinner
				sums[r.LoserID] += r.DeltaLoser
			}
			for _, p := range players {
				So(rating(ctx, store, p), ShouldEqual, 1500+sums[p])
			}
		})
	})
}

func TestLockTimeout(t *testing.T) {
	Convey("Given a transaction stuck while holding alice's lock", t, func() {
		ctx := context.Background()
		store := newFaultyStore(ctx)
		defer store.Close()
		store.blockWinner = "alice"
		store.blockAppend = make(chan struct{})
		eng := newEngine(store, engine.WithLockTimeout(30*time.Millisecond))

		done := make(chan error, 1)
		go func() {
			_, err := eng.ApplyGame(ctx, "alice", "bob", "general")
			done <- err
		}()

		// wait until the first call holds its locks
		for {
			if n, _ := store.Count(ctx); n == 2 {
				break
			}
			time.Sleep(time.Millisecond)
		}

		Convey("When another game for alice is reported", func() {
			_, err := eng.ApplyGame(ctx, "carol", "alice", "general")

			Convey("Then it times out instead of hanging", func() {
				So(errors.Is(err, errs.ErrTimeout), ShouldBeTrue)
			})

			Convey("And a game between other players is not blocked", func() {
				_, err := eng.ApplyGame(ctx, "carol", "dave", "general")
				So(err, ShouldBeNil)
			})
		})

		Convey("When the caller's context is cancelled while waiting", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := eng.UndoLastGame(cctx, "bob", "alice", "general")

			Convey("Then the wait is abandoned with a timeout error", func() {
				So(errors.Is(err, errs.ErrTimeout), ShouldBeTrue)
			})
		})

		Reset(func() {
			close(store.blockAppend)
			<-done
		})
	})
}

func TestSnapshotPublishing(t *testing.T) {
	Convey("Given an engine with a publisher", t, func() {
		ctx := context.Background()
		store := newFaultyStore(ctx)
		defer store.Close()
		pub := &recordingPublisher{accept: true}
		eng := newEngine(store, engine.WithPublisher(pub))

		Convey("When the publisher accepts snapshots", func() {
			_, err := eng.ApplyGame(ctx, "alice", "bob", "general")
			So(err, ShouldBeNil)

			Convey("Then they go to the publisher only", func() {
				So(len(pub.got), ShouldEqual, 2)
				So(pub.got[0].PlayerID, ShouldEqual, "alice")
				So(pub.got[0].Timestamp.IsZero(), ShouldBeFalse)
				snaps, _ := store.Snapshots(ctx, "alice")
				So(snaps, ShouldBeEmpty)
			})
		})

		Convey("When the publisher refuses snapshots", func() {
			pub.accept = false
			_, err := eng.ApplyGame(ctx, "alice", "bob", "general")
			So(err, ShouldBeNil)

			Convey("Then they are written synchronously", func() {
				snaps, _ := store.Snapshots(ctx, "alice")
				So(len(snaps), ShouldEqual, 1)
				So(snaps[0].Rating, ShouldEqual, 1510)
			})
		})
	})
}

func TestView(t *testing.T) {
	Convey("Given an engine", t, func() {
		ctx := context.Background()
		store := newFaultyStore(ctx)
		defer store.Close()
		eng := newEngine(store)

		Convey("View runs the function and returns its error", func() {
			called := false
			err := eng.View(func() error {
				called = true
				return errDisk
			})
			So(called, ShouldBeTrue)
			So(errors.Is(err, errs.ErrStorage), ShouldBeTrue)
		})

		Convey("Writers wait for an open view", func() {
			release := make(chan struct{})
			inView := make(chan struct{})
			go func() {
				_ = eng.View(func() error {
					close(inView)
					<-release
					return nil
				})
			}()
			<-inView

			applied := make(chan struct{})
			go func() {
				_, _ = eng.ApplyGame(ctx, "alice", "bob", "general")
				close(applied)
			}()

			blocked := true
			select {
			case <-applied:
				blocked = false
			case <-time.After(20 * time.Millisecond):
			}
			So(blocked, ShouldBeTrue)
			close(release)
			<-applied
			So(rating(ctx, store, "alice"), ShouldEqual, 1510)
		})
	})
}
