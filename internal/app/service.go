// Package service wires the rating core, its storage backend and the
// snapshot pipeline into the operations exposed by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/versus/internal/adapters/mq/queue"
	"github.com/okian/versus/internal/adapters/mq/worker"
	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/adapters/repository/sqlite"
	"github.com/okian/versus/internal/domain/dedupe"
	"github.com/okian/versus/internal/domain/elo"
	"github.com/okian/versus/internal/domain/engine"
	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/ledger"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/query"
	"github.com/okian/versus/internal/domain/registry"
	"github.com/okian/versus/pkg/logger"
	"github.com/okian/versus/pkg/metrics"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

const stopTimeout = 30 * time.Second

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// GameResult is the outcome of ApplyGame. Duplicate is set when the request
// id was already applied; Game is then the original record and the ratings
// are the players' current ones.
type GameResult struct {
	engine.Result
	Duplicate bool
}

// Service implements the API dependencies for the rating system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	registry *registry.Registry
	ledger   *ledger.Ledger
	engine   *engine.Engine
	query    *query.Service
	deduper  dedupe.Deduper
	queue    *queue.InMemoryQueue
	pool     *worker.Pool

	// Configuration
	storage         string
	sqlitePath      string
	injected        repository.Store
	kFactor         float64
	gFactor         float64
	defaultRating   int
	lockTimeout     time.Duration
	casRetries      int
	idempotencySize int
	queueSize       int
	workerCount     int

	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithMemoryStorage keeps all state in process memory.
func WithMemoryStorage() Option {
	return func(s *Service) {
		s.storage = StorageMemory
	}
}

// WithSQLiteStorage persists state in the SQLite database at path.
func WithSQLiteStorage(path string) Option {
	return func(s *Service) {
		s.storage = StorageSQLite
		s.sqlitePath = path
	}
}

// WithStore uses an already opened store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		s.injected = store
	}
}

// WithRatingFactors sets the K and G factors of the rating model.
func WithRatingFactors(k, g float64) Option {
	return func(s *Service) {
		s.kFactor = k
		s.gFactor = g
	}
}

// WithDefaultRating sets the rating new players start with.
func WithDefaultRating(rating int) Option {
	return func(s *Service) {
		s.defaultRating = rating
	}
}

// WithLockTimeout bounds how long a game waits for its players.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithCASRetries bounds optimistic rating update attempts.
func WithCASRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.casRetries = n
		}
	}
}

// WithIdempotencySize sets how many request ids are remembered. Zero keeps
// all of them.
func WithIdempotencySize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.idempotencySize = size
		}
	}
}

// WithQueueSize sets the capacity of the snapshot queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of snapshot writers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		storage:         StorageMemory,
		kFactor:         elo.DefaultK,
		gFactor:         elo.DefaultG,
		defaultRating:   model.DefaultRating,
		lockTimeout:     2 * time.Second,
		casRetries:      16,
		idempotencySize: 50_000,
		queueSize:       10_000,
		workerCount:     runtime.NumCPU(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start opens the store and starts the snapshot workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting rating service...", logger.String("storage", s.storage))

	store, err := s.openStore(ctx)
	if err != nil {
		return fmt.Errorf("open %s store: %w", s.storage, err)
	}
	s.store = store

	s.registry = registry.New(store,
		registry.WithDefaultRating(s.defaultRating),
		registry.WithCASRetries(s.casRetries),
	)
	s.ledger = ledger.New(store)
	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
		queue.WithBufferSize(s.queueSize),
	)
	s.engine = engine.New(s.registry, s.ledger, store,
		engine.WithModel(elo.New(s.kFactor, s.gFactor)),
		engine.WithLockTimeout(s.lockTimeout),
		engine.WithPublisher(s.queue),
	)
	s.query = query.New(store, s.ledger, query.WithViewer(s.engine))
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.idempotencySize))

	// Workers outlive the start context; Stop drains them.
	s.pool = worker.NewPool(s.workerCount, s.queue, store)
	s.pool.Start(context.WithoutCancel(ctx))

	if n, err := store.Count(ctx); err == nil {
		metrics.UpdatePlayersTotal(n)
	}

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("idempotencySize", s.idempotencySize),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	if s.injected != nil {
		return s.injected, nil
	}
	switch s.storage {
	case StorageMemory:
		return repository.NewMemoryStore(ctx), nil
	case StorageSQLite:
		store, err := sqlite.Open(ctx, s.sqlitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", s.storage)
}

// Stop drains the snapshot queue and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping rating service...")

	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "snapshot workers did not drain", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "error closing store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "rating service stopped")
}

func (s *Service) running(op string) error {
	if !s.started {
		return errs.Wrap(op, ErrNotStarted)
	}
	return nil
}

// ApplyGame records a game. A non-empty requestID makes the call idempotent:
// a retry returns the original game with Duplicate set, and a retry that
// arrives while the original is still in flight fails with errs.ErrConflict.
func (s *Service) ApplyGame(ctx context.Context, winnerID, loserID, channelID, requestID string) (GameResult, error) {
	const op = "service.apply_game"

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running(op); err != nil {
		return GameResult{}, err
	}

	if requestID == "" {
		res, err := s.engine.ApplyGame(ctx, winnerID, loserID, channelID)
		return GameResult{Result: res}, err
	}

	if entry, seen := s.deduper.SeenAndRecord(ctx, requestID); seen {
		metrics.RecordGameDuplicate()
		if entry.Pending {
			return GameResult{}, errs.WrapKind(op, errs.ErrConflict, fmt.Errorf("request %s is in flight", requestID))
		}
		return s.duplicate(ctx, entry.Seq, winnerID, loserID, channelID, requestID)
	}

	res, err := s.engine.ApplyGame(ctx, winnerID, loserID, channelID)
	if err != nil {
		s.deduper.Unrecord(ctx, requestID)
		return GameResult{}, err
	}
	s.deduper.Resolve(ctx, requestID, res.Game.Seq)
	return GameResult{Result: res}, nil
}

func (s *Service) duplicate(ctx context.Context, seq int64, winnerID, loserID, channelID, requestID string) (GameResult, error) {
	const op = "service.apply_game"

	rec, err := s.ledger.Get(ctx, seq)
	if err != nil {
		return GameResult{}, errs.Wrap(op, err)
	}
	if rec.WinnerID != winnerID || rec.LoserID != loserID || rec.ChannelID != channelID {
		return GameResult{}, errs.WrapKind(op, errs.ErrConflict,
			fmt.Errorf("request %s was used for game %d", requestID, seq))
	}

	wr, err := s.registry.Rating(ctx, winnerID)
	if err != nil {
		return GameResult{}, errs.Wrap(op, err)
	}
	lr, err := s.registry.Rating(ctx, loserID)
	if err != nil {
		return GameResult{}, errs.Wrap(op, err)
	}

	s.logger.Debug(ctx, "duplicate game request",
		logger.String("request", requestID),
		logger.Int64("seq", seq),
	)
	return GameResult{
		Result:    engine.Result{Game: rec, WinnerRating: wr, LoserRating: lr},
		Duplicate: true,
	}, nil
}

// UndoLastGame reverts the most recent active game between a and b in the channel.
func (s *Service) UndoLastGame(ctx context.Context, a, b, channelID string) (model.GameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running("service.undo_last_game"); err != nil {
		return model.GameRecord{}, err
	}
	return s.engine.UndoLastGame(ctx, a, b, channelID)
}

// PairwiseRecord returns a's wins and losses against b.
func (s *Service) PairwiseRecord(ctx context.Context, a, b, channelID string) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running("service.pairwise_record"); err != nil {
		return model.Record{}, err
	}
	return s.query.PairwiseRecord(ctx, a, b, channelID)
}

// PlayerRecord returns a player's wins and losses against everyone.
func (s *Service) PlayerRecord(ctx context.Context, playerID, channelID string) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running("service.player_record"); err != nil {
		return model.Record{}, err
	}
	return s.query.PlayerRecord(ctx, playerID, channelID)
}

// Leaderboard returns ranked standings, globally or for one channel.
func (s *Service) Leaderboard(ctx context.Context, channelID string, limit int) ([]model.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running("service.leaderboard"); err != nil {
		return nil, err
	}
	return s.query.Leaderboard(ctx, channelID, limit)
}

// Rating returns a player's current rating.
func (s *Service) Rating(ctx context.Context, playerID string) (model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running("service.rating"); err != nil {
		return model.Player{}, err
	}
	return s.query.Rating(ctx, playerID)
}

// History returns a player's rating snapshots, oldest first.
func (s *Service) History(ctx context.Context, playerID string) ([]model.RatingSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running("service.history"); err != nil {
		return nil, err
	}
	return s.query.History(ctx, playerID)
}

// ChannelGames returns every game logged in a channel, undone ones included.
func (s *Service) ChannelGames(ctx context.Context, channelID string) ([]model.GameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.running("service.channel_games"); err != nil {
		return nil, err
	}
	return s.query.ChannelGames(ctx, channelID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":         s.started,
		"storage":         s.storage,
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"idempotencySize": s.idempotencySize,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["workerCount"] = s.pool.Size()
		stats["trackedRequests"] = s.deduper.Size()

		if players, err := s.store.Count(ctx); err == nil {
			stats["totalPlayers"] = players
			metrics.UpdatePlayersTotal(players)
		}
		metrics.UpdateSnapshotQueueSize(queueLen)
	}

	return stats
}

// Size returns the current number of tracked request ids.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}
