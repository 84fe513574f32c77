// Package engine applies and undoes game outcomes.
//
// Each call is one transaction over the registry and the ledger: both rating
// changes and the ledger write become visible together, or the ones already
// made are compensated and the call fails with errs.ErrTransaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/versus/internal/domain/elo"
	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

const defaultLockTimeout = 2 * time.Second

// Registry holds current ratings.
type Registry interface {
	GetOrCreate(ctx context.Context, playerID string) (int, error)
	AdjustRating(ctx context.Context, playerID string, delta int) (int, error)
}

// Ledger holds game records.
type Ledger interface {
	Append(ctx context.Context, winnerID, loserID, channelID string, deltaWinner, deltaLoser int) (model.GameRecord, error)
	FindLastActive(ctx context.Context, a, b, channelID string) (model.GameRecord, error)
	MarkUndone(ctx context.Context, seq int64) error
	Get(ctx context.Context, seq int64) (model.GameRecord, error)
}

// SnapshotWriter persists rating snapshots.
type SnapshotWriter interface {
	AppendSnapshot(ctx context.Context, s model.RatingSnapshot) error
}

// Publisher hands snapshots to an asynchronous writer. Enqueue returns false
// if the snapshot was not accepted.
type Publisher interface {
	Enqueue(ctx context.Context, s model.RatingSnapshot) bool
}

// Result is the outcome of ApplyGame.
type Result struct {
	Game         model.GameRecord
	WinnerRating int
	LoserRating  int
}

// Engine is the single writer of ratings and game records.
type Engine struct {
	registry  Registry
	ledger    Ledger
	snapshots SnapshotWriter
	publisher Publisher

	model       elo.Model
	lockTimeout time.Duration
	locks       *lockTable

	// gate is held shared by write phases and exclusively by View.
	gate sync.RWMutex

	now    func() time.Time
	logger logger.Logger
}

// New creates an Engine.
func New(reg Registry, led Ledger, snapshots SnapshotWriter, opts ...Option) *Engine {
	e := &Engine{
		registry:    reg,
		ledger:      led,
		snapshots:   snapshots,
		model:       elo.New(elo.DefaultK, elo.DefaultG),
		lockTimeout: defaultLockTimeout,
		locks:       newLockTable(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	return e
}

// Model returns the rating model in use.
func (e *Engine) Model() elo.Model { return e.model }

// View runs fn while no transaction is between its first and last write, so
// fn sees ratings and records that agree with each other.
func (e *Engine) View(fn func() error) error {
	e.gate.Lock()
	defer e.gate.Unlock()
	return fn()
}

// ApplyGame records that winnerID beat loserID in the channel and updates
// both ratings. Unknown players are registered at the default rating; that
// registration is not part of the transaction and survives a failed apply.
func (e *Engine) ApplyGame(ctx context.Context, winnerID, loserID, channelID string) (Result, error) {
	const op = "engine.apply_game"
	start := time.Now()
	defer func() {
		metrics.RecordTransactionLatency(op, float64(time.Since(start).Milliseconds()))
	}()

	if err := validateGame(winnerID, loserID, channelID); err != nil {
		return Result{}, errs.WrapKind(op, errs.ErrInvalidArgument, err)
	}

	release, err := e.lock(ctx, winnerID, loserID)
	if err != nil {
		return Result{}, errs.WrapKind(op, errs.ErrTimeout, err)
	}
	defer release()

	// Past this point the transaction runs to completion or compensates.
	ctx = context.WithoutCancel(ctx)

	wr, err := e.registry.GetOrCreate(ctx, winnerID)
	if err != nil {
		return Result{}, errs.Wrap(op, err)
	}
	lr, err := e.registry.GetOrCreate(ctx, loserID)
	if err != nil {
		return Result{}, errs.Wrap(op, err)
	}
	dw, dl := e.model.Deltas(wr, lr)

	var res Result
	err = e.write(ctx, op, func(tx *txn) error {
		newW, err := e.registry.AdjustRating(ctx, winnerID, dw)
		if err != nil {
			return tx.fail(ctx, "adjust_winner", err)
		}
		tx.undo("adjust_winner", func(ctx context.Context) error {
			_, err := e.registry.AdjustRating(ctx, winnerID, -dw)
			return err
		})

		newL, err := e.registry.AdjustRating(ctx, loserID, dl)
		if err != nil {
			return tx.fail(ctx, "adjust_loser", err)
		}
		tx.undo("adjust_loser", func(ctx context.Context) error {
			_, err := e.registry.AdjustRating(ctx, loserID, -dl)
			return err
		})

		rec, err := e.ledger.Append(ctx, winnerID, loserID, channelID, dw, dl)
		if err != nil {
			return tx.fail(ctx, "append", err)
		}
		res = Result{Game: rec, WinnerRating: newW, LoserRating: newL}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordGameApplied()
	e.publish(ctx, model.RatingSnapshot{PlayerID: winnerID, Rating: res.WinnerRating, GameSeq: res.Game.Seq})
	e.publish(ctx, model.RatingSnapshot{PlayerID: loserID, Rating: res.LoserRating, GameSeq: res.Game.Seq})

	e.logger.Debug(ctx, "game applied",
		logger.Int64("seq", res.Game.Seq),
		logger.String("channel", channelID),
		logger.String("winner", winnerID),
		logger.String("loser", loserID),
		logger.Int("delta_winner", dw),
		logger.Int("delta_loser", dl),
	)
	return res, nil
}

// UndoLastGame reverts the most recent active game between a and b in the
// channel using the deltas stored with it, and returns the undone record.
func (e *Engine) UndoLastGame(ctx context.Context, a, b, channelID string) (model.GameRecord, error) {
	const op = "engine.undo_last_game"
	start := time.Now()
	defer func() {
		metrics.RecordTransactionLatency(op, float64(time.Since(start).Milliseconds()))
	}()

	if err := validateGame(a, b, channelID); err != nil {
		return model.GameRecord{}, errs.WrapKind(op, errs.ErrInvalidArgument, err)
	}

	release, err := e.lock(ctx, a, b)
	if err != nil {
		return model.GameRecord{}, errs.WrapKind(op, errs.ErrTimeout, err)
	}
	defer release()

	ctx = context.WithoutCancel(ctx)

	rec, err := e.ledger.FindLastActive(ctx, a, b, channelID)
	if errors.Is(err, errs.ErrNotFound) {
		return model.GameRecord{}, errs.NewKind(op, errs.ErrNoActiveGame)
	}
	if err != nil {
		return model.GameRecord{}, errs.Wrap(op, err)
	}

	var newW, newL int
	err = e.write(ctx, op, func(tx *txn) error {
		var err error
		newW, err = e.registry.AdjustRating(ctx, rec.WinnerID, -rec.DeltaWinner)
		if err != nil {
			return tx.fail(ctx, "revert_winner", err)
		}
		tx.undo("revert_winner", func(ctx context.Context) error {
			_, err := e.registry.AdjustRating(ctx, rec.WinnerID, rec.DeltaWinner)
			return err
		})

		newL, err = e.registry.AdjustRating(ctx, rec.LoserID, -rec.DeltaLoser)
		if err != nil {
			return tx.fail(ctx, "revert_loser", err)
		}
		tx.undo("revert_loser", func(ctx context.Context) error {
			_, err := e.registry.AdjustRating(ctx, rec.LoserID, rec.DeltaLoser)
			return err
		})

		if err := e.ledger.MarkUndone(ctx, rec.Seq); err != nil {
			return tx.fail(ctx, "mark_undone", err)
		}
		return nil
	})
	if err != nil {
		return model.GameRecord{}, err
	}

	if undone, err := e.ledger.Get(ctx, rec.Seq); err == nil {
		rec = undone
	} else {
		rec.Active = false
		rec.UndoneAt = e.now()
	}

	metrics.RecordGameUndone()
	e.publish(ctx, model.RatingSnapshot{PlayerID: rec.WinnerID, Rating: newW, GameSeq: rec.Seq, Undo: true})
	e.publish(ctx, model.RatingSnapshot{PlayerID: rec.LoserID, Rating: newL, GameSeq: rec.Seq, Undo: true})

	e.logger.Debug(ctx, "game undone",
		logger.Int64("seq", rec.Seq),
		logger.String("channel", channelID),
		logger.String("winner", rec.WinnerID),
		logger.String("loser", rec.LoserID),
	)
	return rec, nil
}

func (e *Engine) lock(ctx context.Context, ids ...string) (func(), error) {
	start := time.Now()
	release, err := e.locks.acquire(ctx, e.lockTimeout, ids...)
	metrics.RecordLockWait(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordLockTimeout()
		e.logger.Warn(ctx, "lock wait failed", logger.Error(err))
		return nil, err
	}
	return release, nil
}

// write runs fn as the write phase of a transaction, inside the commit gate.
func (e *Engine) write(ctx context.Context, op string, fn func(tx *txn) error) error {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return fn(&txn{op: op, logger: e.logger})
}

// publish hands s to the publisher, or writes it directly when there is no
// publisher or it is refusing work.
func (e *Engine) publish(ctx context.Context, s model.RatingSnapshot) {
	s.Timestamp = e.now()
	if e.publisher != nil {
		if e.publisher.Enqueue(ctx, s) {
			metrics.RecordSnapshotEnqueued()
			return
		}
		metrics.RecordSnapshotSyncFallback()
	}
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.AppendSnapshot(ctx, s); err != nil {
		metrics.RecordSnapshotError()
		e.logger.Error(ctx, "failed to write rating snapshot",
			logger.String("player", s.PlayerID),
			logger.Int64("seq", s.GameSeq),
			logger.Error(err),
		)
		return
	}
	metrics.RecordSnapshotWritten()
}

// validateGame rejects empty ids. An empty channel would match every channel
// in the ledger.
func validateGame(a, b, channelID string) error {
	switch {
	case a == "" || b == "":
		return errors.New("player ids must not be empty")
	case channelID == "":
		return errors.New("channel id must not be empty")
	case a == b:
		return fmt.Errorf("player %q cannot play against themselves", a)
	}
	return nil
}
