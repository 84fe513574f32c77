// Package elo implements the Elo expectation and rating-change formulas.
//
// Deltas are truncated toward zero and computed independently for each side
// of a game. Callers that need to reverse a game must replay the stored
// deltas rather than recompute them, since the ratings they were derived
// from have usually moved on.
package elo

import "math"

// Default model parameters.
const (
	DefaultK = 20.0
	DefaultG = 1.0
)

// Outcome is the actual result of a game from one player's point of view.
type Outcome float64

// Outcomes.
const (
	Loss Outcome = 0
	Win  Outcome = 1
)

// ExpectedScore returns the probability, in (0,1), that a player rated
// ratingA beats a player rated ratingB.
func ExpectedScore(ratingA, ratingB int) float64 {
	exp := float64(ratingB-ratingA) / 400.0
	return 1 / (math.Pow(10, exp) + 1)
}

// Delta returns the signed rating change for a player with the given
// expectation and actual outcome, truncated toward zero.
func Delta(k, g, expected float64, actual Outcome) int {
	return int(math.Trunc((k * g) * (float64(actual) - expected)))
}

// Model holds the K and G factors applied to every game.
type Model struct {
	K float64
	G float64
}

// New returns a Model, falling back to the defaults for non-positive factors.
func New(k, g float64) Model {
	if k <= 0 {
		k = DefaultK
	}
	if g <= 0 {
		g = DefaultG
	}
	return Model{K: k, G: g}
}

// Deltas returns the rating changes for the winner and the loser of a game
// between players currently rated winnerRating and loserRating.
func (m Model) Deltas(winnerRating, loserRating int) (deltaWinner, deltaLoser int) {
	expected := ExpectedScore(winnerRating, loserRating)
	deltaWinner = Delta(m.K, m.G, expected, Win)
	deltaLoser = Delta(m.K, m.G, 1-expected, Loss)
	return deltaWinner, deltaLoser
}
