// Package ledger keeps the history of reported games.
//
// Records are only ever appended. Undo flips a record's active flag; nothing
// is deleted or edited in place.
package ledger

import (
	"context"
	"iter"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
)

// Store is the subset of the repository the ledger needs.
type Store interface {
	Append(ctx context.Context, rec model.GameRecord) (model.GameRecord, error)
	Record(ctx context.Context, seq int64) (model.GameRecord, error)
	Deactivate(ctx context.Context, seq int64) error
	Scan(ctx context.Context, f repository.Filter) iter.Seq2[model.GameRecord, error]
}

// Ledger is the game log.
type Ledger struct {
	store Store
}

// New creates a Ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Append logs a game with the deltas that were applied for it.
func (l *Ledger) Append(ctx context.Context, winnerID, loserID, channelID string, deltaWinner, deltaLoser int) (model.GameRecord, error) {
	rec, err := l.store.Append(ctx, model.GameRecord{
		ChannelID:   channelID,
		WinnerID:    winnerID,
		LoserID:     loserID,
		DeltaWinner: deltaWinner,
		DeltaLoser:  deltaLoser,
	})
	if err != nil {
		return model.GameRecord{}, errs.Wrap("ledger.append", err)
	}
	return rec, nil
}

// FindLastActive returns the most recent active game between a and b in the
// channel, in either winner/loser order.
func (l *Ledger) FindLastActive(ctx context.Context, a, b, channelID string) (model.GameRecord, error) {
	const op = "ledger.find_last_active"

	f := repository.Filter{
		ChannelID:  channelID,
		PlayerA:    a,
		PlayerB:    b,
		ActiveOnly: true,
		Reverse:    true,
	}
	for rec, err := range l.store.Scan(ctx, f) {
		if err != nil {
			return model.GameRecord{}, errs.Wrap(op, err)
		}
		return rec, nil
	}
	return model.GameRecord{}, errs.NewKind(op, errs.ErrNotFound)
}

// MarkUndone deactivates the record. A record can be undone only once.
func (l *Ledger) MarkUndone(ctx context.Context, seq int64) error {
	return errs.Wrap("ledger.mark_undone", l.store.Deactivate(ctx, seq))
}

// Get returns the record with the given sequence id.
func (l *Ledger) Get(ctx context.Context, seq int64) (model.GameRecord, error) {
	rec, err := l.store.Record(ctx, seq)
	if err != nil {
		return model.GameRecord{}, errs.Wrap("ledger.get", err)
	}
	return rec, nil
}

// ListByChannel yields every game in the channel, undone ones included.
func (l *Ledger) ListByChannel(ctx context.Context, channelID string) iter.Seq2[model.GameRecord, error] {
	return l.store.Scan(ctx, repository.Filter{ChannelID: channelID})
}

// ListActiveByPair yields the active games between a and b across all channels.
func (l *Ledger) ListActiveByPair(ctx context.Context, a, b string) iter.Seq2[model.GameRecord, error] {
	return l.ListActive(ctx, repository.Filter{PlayerA: a, PlayerB: b})
}

// ListActiveByPlayer yields the active games the player took part in.
func (l *Ledger) ListActiveByPlayer(ctx context.Context, playerID string) iter.Seq2[model.GameRecord, error] {
	return l.ListActive(ctx, repository.Filter{PlayerA: playerID})
}

// ListActive yields active games matching f.
func (l *Ledger) ListActive(ctx context.Context, f repository.Filter) iter.Seq2[model.GameRecord, error] {
	f.ActiveOnly = true
	f.Reverse = false
	return l.store.Scan(ctx, f)
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[model.GameRecord, error]) ([]model.GameRecord, error) {
	var out []model.GameRecord
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
