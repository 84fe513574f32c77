package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	service "github.com/okian/versus/internal/app"
	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestServiceIntegration(t *testing.T) {
	backends := []struct {
		name string
		opt  func(t *testing.T) service.Option
	}{
		{"memory", func(*testing.T) service.Option { return service.WithMemoryStorage() }},
		{"sqlite", func(t *testing.T) service.Option {
			return service.WithSQLiteStorage(filepath.Join(t.TempDir(), "versus.db"))
		}},
	}

	for _, backend := range backends {
		Convey("Given a running service on "+backend.name+" storage", t, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			svc := service.New(backend.opt(t), service.WithWorkerCount(2), service.WithQueueSize(1000))
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("When alice beats bob in a channel", func() {
				res, err := svc.ApplyGame(ctx, "alice", "bob", "C1", "")
				So(err, ShouldBeNil)

				Convey("Then both ratings move by the same amount", func() {
					So(res.WinnerRating, ShouldEqual, 1510)
					So(res.LoserRating, ShouldEqual, 1490)
					So(res.Game.Seq, ShouldEqual, 1)
					So(res.Game.Active, ShouldBeTrue)
				})

				Convey("Then the pairwise record shows it from both sides", func() {
					ab, err := svc.PairwiseRecord(ctx, "alice", "bob", "C1")
					So(err, ShouldBeNil)
					So(ab, ShouldResemble, model.Record{Wins: 1})
					ba, err := svc.PairwiseRecord(ctx, "bob", "alice", "C1")
					So(err, ShouldBeNil)
					So(ba, ShouldResemble, model.Record{Losses: 1})
				})

				Convey("Then the leaderboard ranks alice first", func() {
					board, err := svc.Leaderboard(ctx, "", 10)
					So(err, ShouldBeNil)
					So(board, ShouldResemble, []model.Standing{
						{Rank: 1, PlayerID: "alice", Rating: 1510},
						{Rank: 2, PlayerID: "bob", Rating: 1490},
					})
				})

				Convey("Then both players get a history entry", func() {
					So(waitFor(func() bool {
						h, err := svc.History(ctx, "alice")
						return err == nil && len(h) == 1
					}), ShouldBeTrue)
					var bob []model.RatingSnapshot
					So(waitFor(func() bool {
						bob, _ = svc.History(ctx, "bob")
						return len(bob) == 1
					}), ShouldBeTrue)
					So(bob[0].Rating, ShouldEqual, 1490)
					So(bob[0].GameSeq, ShouldEqual, 1)
				})

				Convey("And the game is undone", func() {
					rec, err := svc.UndoLastGame(ctx, "bob", "alice", "C1")
					So(err, ShouldBeNil)

					Convey("Then ratings and record are restored", func() {
						So(rec.Seq, ShouldEqual, 1)
						So(rec.Active, ShouldBeFalse)

						alice, err := svc.Rating(ctx, "alice")
						So(err, ShouldBeNil)
						So(alice.Rating, ShouldEqual, 1500)

						r, err := svc.PairwiseRecord(ctx, "alice", "bob", "C1")
						So(err, ShouldBeNil)
						So(r, ShouldResemble, model.Record{})
					})

					Convey("Then the channel audit still lists it", func() {
						games, err := svc.ChannelGames(ctx, "C1")
						So(err, ShouldBeNil)
						So(games, ShouldHaveLength, 1)
						So(games[0].Active, ShouldBeFalse)
					})

					Convey("Then a second undo finds nothing", func() {
						_, err := svc.UndoLastGame(ctx, "alice", "bob", "C1")
						So(errors.Is(err, errs.ErrNoActiveGame), ShouldBeTrue)
					})
				})
			})

			Convey("When many games between overlapping players run concurrently", func() {
				players := []string{"p0", "p1", "p2", "p3", "p4"}
				const games = 60

				var wg sync.WaitGroup
				errCh := make(chan error, games)
				for i := 0; i < games; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						w := players[i%len(players)]
						l := players[(i+1+i/len(players))%len(players)]
						if w == l {
							l = players[(i+2)%len(players)]
						}
						_, err := svc.ApplyGame(ctx, w, l, "C1", fmt.Sprintf("req-%d", i))
						errCh <- err
					}(i)
				}
				wg.Wait()
				close(errCh)

				Convey("Then every game is applied and no points are lost", func() {
					for err := range errCh {
						So(err, ShouldBeNil)
					}
					games, err := svc.ChannelGames(ctx, "C1")
					So(err, ShouldBeNil)
					So(games, ShouldHaveLength, 60)

					sum := 0
					board, err := svc.Leaderboard(ctx, "", 0)
					So(err, ShouldBeNil)
					for _, s := range board {
						sum += s.Rating
					}
					deltas := 0
					for _, g := range games {
						deltas += g.DeltaWinner + g.DeltaLoser
					}
					So(sum, ShouldEqual, len(board)*1500+deltas)
				})
			})

			Convey("When querying unknown players", func() {
				_, err := svc.Rating(ctx, "ghost")

				Convey("Then they are not found", func() {
					So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
				})
			})
		})
	}
}

func TestServiceSQLiteRestart(t *testing.T) {
	Convey("Given a service backed by a sqlite file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "versus.db")

		first := service.New(service.WithSQLiteStorage(path), service.WithWorkerCount(2))
		So(first.Start(ctx), ShouldBeNil)
		_, err := first.ApplyGame(ctx, "alice", "bob", "C1", "")
		So(err, ShouldBeNil)
		_, err = first.ApplyGame(ctx, "alice", "carol", "C1", "")
		So(err, ShouldBeNil)
		first.Stop()

		Convey("When a new service opens the same file", func() {
			second := service.New(service.WithSQLiteStorage(path), service.WithWorkerCount(2))
			So(second.Start(ctx), ShouldBeNil)
			defer second.Stop()

			Convey("Then ratings, records and history survive", func() {
				alice, err := second.Rating(ctx, "alice")
				So(err, ShouldBeNil)
				So(alice.Rating, ShouldBeGreaterThan, 1500)

				rec, err := second.PlayerRecord(ctx, "alice", "")
				So(err, ShouldBeNil)
				So(rec, ShouldResemble, model.Record{Wins: 2})

				hist, err := second.History(ctx, "alice")
				So(err, ShouldBeNil)
				So(hist, ShouldHaveLength, 2)
			})

			Convey("Then the last game can still be undone", func() {
				undone, err := second.UndoLastGame(ctx, "carol", "alice", "C1")
				So(err, ShouldBeNil)
				So(undone.Seq, ShouldEqual, 2)

				carol, err := second.Rating(ctx, "carol")
				So(err, ShouldBeNil)
				So(carol.Rating, ShouldEqual, 1500)
			})
		})
	})
}
