// Package sqlite provides a durable repository.Store on top of SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/adapters/repository/sqlite/migrations"
	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/metrics"
)

const dsnParams = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

var _ repository.Store = (*Store)(nil)

// Store persists players, the game ledger and rating history in SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

type playerRow struct {
	ID        string `db:"id"`
	Rating    int    `db:"rating"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r playerRow) model() model.Player {
	return model.Player{
		ID:        r.ID,
		Rating:    r.Rating,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

type gameRow struct {
	Seq         int64         `db:"seq"`
	ChannelID   string        `db:"channel_id"`
	WinnerID    string        `db:"winner_id"`
	LoserID     string        `db:"loser_id"`
	CreatedAt   int64         `db:"created_at"`
	DeltaWinner int           `db:"delta_winner"`
	DeltaLoser  int           `db:"delta_loser"`
	Active      bool          `db:"active"`
	UndoneAt    sql.NullInt64 `db:"undone_at"`
}

func (r gameRow) model() model.GameRecord {
	rec := model.GameRecord{
		Seq:         r.Seq,
		ChannelID:   r.ChannelID,
		WinnerID:    r.WinnerID,
		LoserID:     r.LoserID,
		CreatedAt:   fromMillis(r.CreatedAt),
		DeltaWinner: r.DeltaWinner,
		DeltaLoser:  r.DeltaLoser,
		Active:      r.Active,
	}
	if r.UndoneAt.Valid {
		rec.UndoneAt = fromMillis(r.UndoneAt.Int64)
	}
	return rec
}

type snapshotRow struct {
	PlayerID string `db:"player_id"`
	Rating   int    `db:"rating"`
	GameSeq  int64  `db:"game_seq"`
	Undo     bool   `db:"is_undo"`
	TS       int64  `db:"ts"`
}

var (
	playerColumns = []string{"id", "rating", "created_at", "updated_at"}
	gameColumns   = []string{
		"seq", "channel_id", "winner_id", "loser_id", "created_at",
		"delta_winner", "delta_loser", "active", "undone_at",
	}
)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func storageErr(op string, err error) error {
	return errs.WrapKind(op, errs.ErrStorage, err)
}

// Open opens (or creates) the database at path and applies the embedded
// migrations. The path ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	const op = "sqlite.open"

	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errs.WrapKind(op, errs.ErrInvalidArgument, errors.New("database path is required"))
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}

	db, err := sqlx.Open("sqlite", path+dsnParams)
	if err != nil {
		return nil, storageErr(op, fmt.Errorf("open sqlite db: %w", err))
	}
	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr(op, fmt.Errorf("ping sqlite db: %w", err))
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, storageErr(op, fmt.Errorf("run migrations: %w", err))
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func migrateUp(db *sqlx.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	drv, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}
	// m.Close would close db as well, so the migrator is simply dropped.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, playerID string) (model.Player, error) {
	const op = "sqlite.get"

	query, args, err := sq.Select(playerColumns...).From("players").
		Where(sq.Eq{"id": playerID}).ToSql()
	if err != nil {
		return model.Player{}, storageErr(op, err)
	}

	var row playerRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Player{}, errs.NewKind(op, errs.ErrNotFound)
		}
		return model.Player{}, storageErr(op, err)
	}
	return row.model(), nil
}

// Put implements repository.Store. A player that already exists is
// returned unchanged.
func (s *Store) Put(ctx context.Context, p model.Player) (model.Player, error) {
	const op = "sqlite.put"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	query, args, err := sq.Insert("players").
		SetMap(map[string]any{
			"id":         p.ID,
			"rating":     p.Rating,
			"created_at": toMillis(p.CreatedAt),
			"updated_at": toMillis(now),
		}).
		Suffix("ON CONFLICT(id) DO NOTHING").
		ToSql()
	if err != nil {
		return model.Player{}, storageErr(op, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return model.Player{}, storageErr(op, err)
	}
	return s.Get(ctx, p.ID)
}

// ConditionalUpdate implements repository.Store as a single
// compare-and-set statement.
func (s *Store) ConditionalUpdate(ctx context.Context, playerID string, expected, next int) error {
	const op = "sqlite.conditional_update"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	query, args, err := sq.Update("players").
		Set("rating", next).
		Set("updated_at", toMillis(s.now())).
		Where(sq.Eq{"id": playerID, "rating": expected}).
		ToSql()
	if err != nil {
		return storageErr(op, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.Get(ctx, playerID); err != nil {
		return errs.Wrap(op, err)
	}
	return errs.NewKind(op, errs.ErrConflict)
}

// TopPlayers implements repository.Store.
func (s *Store) TopPlayers(ctx context.Context, n int) ([]model.Player, error) {
	const op = "sqlite.top_players"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	b := sq.Select(playerColumns...).From("players").OrderBy("rating DESC", "id ASC")
	if n > 0 {
		b = b.Limit(uint64(n))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, storageErr(op, err)
	}

	var rows []playerRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageErr(op, err)
	}
	out := make([]model.Player, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	const op = "sqlite.count"

	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM players"); err != nil {
		return 0, storageErr(op, err)
	}
	metrics.UpdatePlayersTotal(n)
	return n, nil
}

// Append implements repository.Store.
func (s *Store) Append(ctx context.Context, rec model.GameRecord) (model.GameRecord, error) {
	const op = "sqlite.append"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	query, args, err := sq.Insert("games").
		SetMap(map[string]any{
			"channel_id":   rec.ChannelID,
			"winner_id":    rec.WinnerID,
			"loser_id":     rec.LoserID,
			"created_at":   toMillis(rec.CreatedAt),
			"delta_winner": rec.DeltaWinner,
			"delta_loser":  rec.DeltaLoser,
			"active":       true,
		}).
		ToSql()
	if err != nil {
		return model.GameRecord{}, storageErr(op, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return model.GameRecord{}, storageErr(op, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.GameRecord{}, storageErr(op, err)
	}

	rec.Seq = seq
	rec.Active = true
	rec.CreatedAt = fromMillis(toMillis(rec.CreatedAt))
	rec.UndoneAt = time.Time{}
	return rec, nil
}

// Record implements repository.Store.
func (s *Store) Record(ctx context.Context, seq int64) (model.GameRecord, error) {
	const op = "sqlite.record"

	query, args, err := sq.Select(gameColumns...).From("games").
		Where(sq.Eq{"seq": seq}).ToSql()
	if err != nil {
		return model.GameRecord{}, storageErr(op, err)
	}

	var row gameRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.GameRecord{}, errs.NewKind(op, errs.ErrNotFound)
		}
		return model.GameRecord{}, storageErr(op, err)
	}
	return row.model(), nil
}

// Deactivate implements repository.Store.
func (s *Store) Deactivate(ctx context.Context, seq int64) error {
	const op = "sqlite.deactivate"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	query, args, err := sq.Update("games").
		Set("active", false).
		Set("undone_at", toMillis(s.now())).
		Where(sq.Eq{"seq": seq, "active": true}).
		ToSql()
	if err != nil {
		return storageErr(op, err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.Record(ctx, seq); err != nil {
		return errs.Wrap(op, err)
	}
	return errs.NewKind(op, errs.ErrAlreadyUndone)
}

// Scan implements repository.Store. The matching rows are read in one query
// before anything is yielded, so callers may use the store while iterating.
func (s *Store) Scan(ctx context.Context, f repository.Filter) iter.Seq2[model.GameRecord, error] {
	const op = "sqlite.scan"

	return func(yield func(model.GameRecord, error) bool) {
		start := time.Now()
		rows, err := s.scanRows(ctx, f)
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
		if err != nil {
			yield(model.GameRecord{}, storageErr(op, err))
			return
		}
		for _, r := range rows {
			if !yield(r.model(), nil) {
				return
			}
		}
	}
}

func (s *Store) scanRows(ctx context.Context, f repository.Filter) ([]gameRow, error) {
	b := sq.Select(gameColumns...).From("games")

	if f.ActiveOnly {
		b = b.Where(sq.Eq{"active": true})
	}
	if f.ChannelID != "" {
		b = b.Where(sq.Eq{"channel_id": f.ChannelID})
	}
	switch {
	case f.PlayerA != "" && f.PlayerB != "":
		b = b.Where(sq.Or{
			sq.Eq{"winner_id": f.PlayerA, "loser_id": f.PlayerB},
			sq.Eq{"winner_id": f.PlayerB, "loser_id": f.PlayerA},
		})
	case f.PlayerA != "" || f.PlayerB != "":
		id := f.PlayerA
		if id == "" {
			id = f.PlayerB
		}
		b = b.Where(sq.Or{sq.Eq{"winner_id": id}, sq.Eq{"loser_id": id}})
	}
	if f.Reverse {
		b = b.OrderBy("seq DESC")
	} else {
		b = b.OrderBy("seq ASC")
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var rows []gameRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// AppendSnapshot implements repository.Store.
func (s *Store) AppendSnapshot(ctx context.Context, snap model.RatingSnapshot) error {
	const op = "sqlite.append_snapshot"

	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now()
	}
	query, args, err := sq.Insert("rating_snapshots").
		SetMap(map[string]any{
			"player_id": snap.PlayerID,
			"rating":    snap.Rating,
			"game_seq":  snap.GameSeq,
			"is_undo":   snap.Undo,
			"ts":        toMillis(snap.Timestamp),
		}).
		ToSql()
	if err != nil {
		return storageErr(op, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// Snapshots implements repository.Store. Rows are ordered by timestamp, then
// game sequence id, then insertion order.
func (s *Store) Snapshots(ctx context.Context, playerID string) ([]model.RatingSnapshot, error) {
	const op = "sqlite.snapshots"

	query, args, err := sq.Select("player_id", "rating", "game_seq", "is_undo", "ts").
		From("rating_snapshots").
		Where(sq.Eq{"player_id": playerID}).
		OrderBy("ts ASC", "game_seq ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, storageErr(op, err)
	}

	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageErr(op, err)
	}
	out := make([]model.RatingSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.RatingSnapshot{
			PlayerID:  r.PlayerID,
			Rating:    r.Rating,
			GameSeq:   r.GameSeq,
			Undo:      r.Undo,
			Timestamp: fromMillis(r.TS),
		})
	}
	return out, nil
}
