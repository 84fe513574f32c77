package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/versus/internal/adapters/http/api"
	service "github.com/okian/versus/internal/app"
	"github.com/okian/versus/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
}

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	ctx := context.Background()

	svc := service.New(service.WithWorkerCount(2))
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start service: %v", err)
	}

	mux := http.NewServeMux()
	api.NewServer(svc, svc, 100).Register(ctx, mux)
	return httptest.NewServer(mux), svc
}

func TestGenerateGames(t *testing.T) {
	Convey("Given a small player pool", t, func() {
		players := generatePlayers(3)
		config := &Config{NumGames: 200, NumChannels: 2, RetryRatio: 0.1}
		stats := &Stats{}

		Convey("When games are generated", func() {
			games, err := generateGames(context.Background(), config, players, stats)
			So(err, ShouldBeNil)

			Convey("Then no player plays themselves and retries reuse request ids", func() {
				So(games, ShouldHaveLength, 220)
				So(stats.GamesGenerated, ShouldEqual, 220)

				originals := make(map[string]Game, 200)
				for _, g := range games[:200] {
					So(g.WinnerID, ShouldNotEqual, g.LoserID)
					So(g.ChannelID, ShouldBeIn, []string{"channel-0", "channel-1"})
					originals[g.RequestID] = g
				}
				So(originals, ShouldHaveLength, 200)
				for _, g := range games[200:] {
					So(originals[g.RequestID], ShouldResemble, g)
				}
			})
		})

		Convey("When the pool has a single player", func() {
			_, err := generateGames(context.Background(), config, players[:1], stats)

			Convey("Then generation is refused", func() {
				So(errors.Is(err, ErrTooFewPlayers), ShouldBeTrue)
			})
		})
	})
}

func TestVerification(t *testing.T) {
	Convey("Given ratings after two applied games", t, func() {
		var a, b GameAck
		a.Game.Seq, a.Game.DeltaWinner, a.Game.DeltaLoser = 1, 10, -10
		b.Game.Seq, b.Game.DeltaWinner, b.Game.DeltaLoser = 2, 9, -9
		players := []Player{
			{PlayerID: "alice", Rating: 1519},
			{PlayerID: "bob", Rating: 1490},
			{PlayerID: "carol", Rating: 1491},
		}

		Convey("Then conservation holds", func() {
			So(verifyConservation(1500, players, []GameAck{a, b}), ShouldBeNil)
		})

		Convey("Then a missing point is reported", func() {
			players[2].Rating = 1492
			So(errors.Is(verifyConservation(1500, players, []GameAck{a, b}), ErrRatingDrift), ShouldBeTrue)
		})

		Convey("Then a repeated sequence is reported", func() {
			So(errors.Is(verifyConservation(1500, players, []GameAck{a, a}), ErrDuplicateSeq), ShouldBeTrue)
		})
	})

	Convey("Given leaderboards", t, func() {
		Convey("Then ties must be ordered by player id", func() {
			ok := []Entry{{1, "alice", 1510}, {2, "bob", 1500}, {2, "carol", 1500}, {3, "dave", 1400}}
			So(verifyLeaderboardOrder(ok), ShouldBeNil)

			bad := []Entry{{1, "alice", 1510}, {2, "carol", 1500}, {2, "bob", 1500}}
			So(errors.Is(verifyLeaderboardOrder(bad), ErrLeaderboardOrder), ShouldBeTrue)
		})

		Convey("Then ranks must be dense and shared by ties", func() {
			gap := []Entry{{1, "alice", 1510}, {3, "bob", 1500}}
			So(errors.Is(verifyLeaderboardOrder(gap), ErrLeaderboardOrder), ShouldBeTrue)

			split := []Entry{{1, "alice", 1500}, {2, "bob", 1500}}
			So(errors.Is(verifyLeaderboardOrder(split), ErrLeaderboardOrder), ShouldBeTrue)
		})

		Convey("Then the head must match the best individual rating", func() {
			sorted := sortPlayers([]Player{{"bob", 1490}, {"alice", 1510}})
			So(sorted[0].PlayerID, ShouldEqual, "alice")
			So(verifyLeaderboardConsistency(sorted, []Entry{{1, "alice", 1510}}), ShouldBeNil)
			So(verifyLeaderboardConsistency(sorted, []Entry{{1, "bob", 1490}}), ShouldNotBeNil)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running service", t, func() {
		srv, svc := newTestServer(t)
		defer svc.Stop()
		defer srv.Close()

		output := filepath.Join(t.TempDir(), "games", "out.json")
		config := &Config{
			BaseURL:       srv.URL,
			NumGames:      300,
			NumPlayers:    12,
			NumChannels:   3,
			RetryRatio:    0.1,
			TopN:          5,
			Workers:       8,
			Timeout:       5 * time.Second,
			DefaultRating: 1500,
			OutputFile:    output,
		}

		Convey("When a load run completes", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			stats, err := Run(ctx, config)

			Convey("Then every game is accounted for and ratings add up", func() {
				So(err, ShouldBeNil)
				So(stats.GamesSubmitted, ShouldEqual, 330)
				So(stats.GamesFailed, ShouldEqual, 0)
				So(stats.GamesApplied, ShouldEqual, 300)
				So(stats.GamesDuplicate+stats.GamesConflict, ShouldEqual, 30)
				So(stats.LeaderboardEntries, ShouldEqual, 5)
				So(stats.PlayersRetrieved, ShouldBeLessThanOrEqualTo, 12)
			})

			Convey("Then the generated games are saved", func() {
				data, err := os.ReadFile(output)
				So(err, ShouldBeNil)
				var games []Game
				So(json.Unmarshal(data, &games), ShouldBeNil)
				So(games, ShouldHaveLength, 330)
			})
		})
	})

	Convey("Given no service at the address", t, func() {
		config := &Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, Workers: 1}

		Convey("Then the run stops at the health check", func() {
			_, err := Run(context.Background(), config)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "health check")
		})
	})
}
