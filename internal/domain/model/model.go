// Package model contains domain models passed between layers.
package model

import "time"

// DefaultRating is the rating a player starts with on first appearance.
const DefaultRating = 1500

// Player is a competitor identified by an opaque external id.
type Player struct {
	ID        string
	Rating    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GameRecord is one logged head-to-head outcome.
//
// Only Active (and UndoneAt alongside it) ever changes after Append, and only
// from true to false.
type GameRecord struct {
	Seq         int64
	ChannelID   string
	WinnerID    string
	LoserID     string
	CreatedAt   time.Time
	DeltaWinner int
	DeltaLoser  int
	Active      bool
	UndoneAt    time.Time
}

// Involves reports whether the record is a game between a and b, in either order.
func (g GameRecord) Involves(a, b string) bool {
	return (g.WinnerID == a && g.LoserID == b) || (g.WinnerID == b && g.LoserID == a)
}

// Opponent returns the other side of the game for playerID, or "" if the
// player did not take part.
func (g GameRecord) Opponent(playerID string) string {
	switch playerID {
	case g.WinnerID:
		return g.LoserID
	case g.LoserID:
		return g.WinnerID
	}
	return ""
}

// RatingSnapshot records a player's rating right after it changed.
type RatingSnapshot struct {
	PlayerID  string
	Rating    int
	GameSeq   int64
	Undo      bool
	Timestamp time.Time
}

// Standing is a leaderboard row.
type Standing struct {
	Rank     int
	PlayerID string
	Rating   int
}

// Record is a win/loss tally.
type Record struct {
	Wins   int
	Losses int
}
