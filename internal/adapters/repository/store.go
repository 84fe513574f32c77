// Package repository defines the rating and ledger storage contract and an
// in-memory implementation of it.
package repository

import (
	"context"
	"iter"

	"github.com/okian/versus/internal/domain/model"
)

// Filter selects ledger records for Scan.
//
// PlayerA and PlayerB both set selects games between that pair; only PlayerA
// set selects every game the player took part in. Empty fields match anything.
type Filter struct {
	ChannelID  string
	PlayerA    string
	PlayerB    string
	ActiveOnly bool
	// Reverse yields records from the highest sequence id down.
	Reverse bool
}

// Match reports whether rec satisfies f.
func (f Filter) Match(rec model.GameRecord) bool {
	if f.ActiveOnly && !rec.Active {
		return false
	}
	if f.ChannelID != "" && rec.ChannelID != f.ChannelID {
		return false
	}
	switch {
	case f.PlayerA != "" && f.PlayerB != "":
		return rec.Involves(f.PlayerA, f.PlayerB)
	case f.PlayerA != "":
		return rec.WinnerID == f.PlayerA || rec.LoserID == f.PlayerA
	case f.PlayerB != "":
		return rec.WinnerID == f.PlayerB || rec.LoserID == f.PlayerB
	}
	return true
}

// Store is the persistence backend behind the registry and the ledger.
//
// Implementations must be safe for concurrent use. Failures of the
// underlying medium are reported as errs.ErrStorage.
type Store interface {
	// Get returns the player or errs.ErrNotFound.
	Get(ctx context.Context, playerID string) (model.Player, error)
	// Put inserts p unless a player with the same id exists, and returns the
	// stored player either way.
	Put(ctx context.Context, p model.Player) (model.Player, error)
	// ConditionalUpdate sets the player's rating to next only if it currently
	// equals expected. Returns errs.ErrConflict on mismatch and
	// errs.ErrNotFound for unknown players.
	ConditionalUpdate(ctx context.Context, playerID string, expected, next int) error
	// TopPlayers returns players ordered by rating desc then id asc.
	// n <= 0 returns all of them.
	TopPlayers(ctx context.Context, n int) ([]model.Player, error)
	// Count returns the number of registered players.
	Count(ctx context.Context) (int, error)

	// Append stores rec under the next sequence id and returns it.
	Append(ctx context.Context, rec model.GameRecord) (model.GameRecord, error)
	// Record returns the ledger entry with the given sequence id.
	Record(ctx context.Context, seq int64) (model.GameRecord, error)
	// Deactivate flips an active record to inactive. Returns
	// errs.ErrAlreadyUndone if it was inactive already.
	Deactivate(ctx context.Context, seq int64) error
	// Scan yields matching records ordered by sequence id. Each call to the
	// returned sequence restarts the scan.
	Scan(ctx context.Context, f Filter) iter.Seq2[model.GameRecord, error]

	// AppendSnapshot adds an entry to a player's rating history.
	AppendSnapshot(ctx context.Context, s model.RatingSnapshot) error
	// Snapshots returns a player's rating history, oldest first.
	Snapshots(ctx context.Context, playerID string) ([]model.RatingSnapshot, error)

	Close() error
}
