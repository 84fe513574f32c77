package loadgen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
)

// Verification errors.
var (
	ErrRatingDrift      = errors.New("ratings do not add up to the applied deltas")
	ErrLeaderboardOrder = errors.New("leaderboard is not ordered")
	ErrDuplicateSeq     = errors.New("the same game sequence was acknowledged twice")
)

// verifyResults checks that every rating point moved by an applied game is
// accounted for and that the leaderboard agrees with the individual ratings.
func verifyResults(ctx context.Context, config *Config, players []Player, leaderboard []Entry, acks []GameAck) error {
	log.Println("🔍 Verifying results...")

	if err := verifyConservation(config.DefaultRating, players, acks); err != nil {
		return err
	}
	log.Println("✅ Rating conservation verified")

	if err := verifyLeaderboardOrder(leaderboard); err != nil {
		return err
	}

	sorted := sortPlayers(players)
	if err := verifyLeaderboardConsistency(sorted, leaderboard); err != nil {
		// Another client may have played in between.
		log.Printf("⚠️  Leaderboard consistency warning: %v", err)
	} else {
		log.Println("✅ Leaderboard consistency verified")
	}

	displayTopPlayers(sorted, config.DefaultRating, config.Verbose)

	log.Println("✅ Result verification completed")
	return ctx.Err()
}

// verifyConservation checks that the players' ratings equal their starting
// ratings plus every applied delta, each game counted once.
func verifyConservation(defaultRating int, players []Player, acks []GameAck) error {
	seen := make(map[int64]struct{}, len(acks))
	deltas := 0
	for _, ack := range acks {
		if _, dup := seen[ack.Game.Seq]; dup {
			return fmt.Errorf("%w: seq %d", ErrDuplicateSeq, ack.Game.Seq)
		}
		seen[ack.Game.Seq] = struct{}{}
		deltas += ack.Game.DeltaWinner + ack.Game.DeltaLoser
	}

	sum := 0
	for _, p := range players {
		sum += p.Rating
	}
	want := len(players)*defaultRating + deltas
	if sum != want {
		return fmt.Errorf("%w: sum %d, expected %d", ErrRatingDrift, sum, want)
	}
	return nil
}

// verifyLeaderboardOrder checks entries are ordered by rating descending,
// then player id ascending, and that ranks are dense: ties share a rank and
// the next distinct rating takes the following one.
func verifyLeaderboardOrder(leaderboard []Entry) error {
	for i, e := range leaderboard {
		if i == 0 {
			if e.Rank != 1 {
				return fmt.Errorf("%w: first entry has rank %d", ErrLeaderboardOrder, e.Rank)
			}
			continue
		}
		prev := leaderboard[i-1]
		if e.Rating > prev.Rating || (e.Rating == prev.Rating && e.PlayerID < prev.PlayerID) {
			return fmt.Errorf("%w: entry %d (%s) sorts before entry %d (%s)",
				ErrLeaderboardOrder, i, e.PlayerID, i-1, prev.PlayerID)
		}
		want := prev.Rank + 1
		if e.Rating == prev.Rating {
			want = prev.Rank
		}
		if e.Rank != want {
			return fmt.Errorf("%w: entry %d has rank %d, expected %d", ErrLeaderboardOrder, i, e.Rank, want)
		}
	}
	return nil
}

// verifyLeaderboardConsistency checks the leaderboard head against the
// individually fetched ratings.
func verifyLeaderboardConsistency(sorted []Player, leaderboard []Entry) error {
	if len(leaderboard) == 0 {
		if len(sorted) == 0 {
			return nil
		}
		return fmt.Errorf("empty leaderboard")
	}
	if len(sorted) == 0 {
		return fmt.Errorf("no ratings to compare")
	}

	top, head := sorted[0], leaderboard[0]
	if top.PlayerID != head.PlayerID {
		return fmt.Errorf("top leaderboard entry (%s) does not match top rated player (%s)",
			head.PlayerID, top.PlayerID)
	}
	if top.Rating != head.Rating {
		return fmt.Errorf("top leaderboard rating (%d) does not match top player rating (%d)",
			head.Rating, top.Rating)
	}
	return nil
}

// sortPlayers returns a copy of players in leaderboard order.
func sortPlayers(players []Player) []Player {
	sorted := make([]Player, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Rating != sorted[j].Rating {
			return sorted[i].Rating > sorted[j].Rating
		}
		return sorted[i].PlayerID < sorted[j].PlayerID
	})
	return sorted
}

// displayTopPlayers shows the highest rated players.
func displayTopPlayers(sorted []Player, defaultRating int, verbose bool) {
	topN := topPlayersShown
	if len(sorted) < topN {
		topN = len(sorted)
	}

	log.Printf("🏆 Top %d players:", topN)
	for i := 0; i < topN; i++ {
		log.Printf("   %d. %s - Rating: %d", i+1, sorted[i].PlayerID, sorted[i].Rating)
	}

	if verbose && len(sorted) > 0 {
		log.Printf("📊 Rating spread: max %d, min %d, start %d",
			sorted[0].Rating, sorted[len(sorted)-1].Rating, defaultRating)
	}
}
