package repository

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/metrics"
)

const defaultMetricsUpdateInterval = 5 * time.Second

// pairKey indexes games by unordered player pair and channel.
type pairKey struct {
	lo, hi  string
	channel string
}

func newPairKey(a, b, channel string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b, channel: channel}
}

// MemoryStore is an in-process Store. Players are kept in a treap ordered
// for the leaderboard; games live in a slice indexed by sequence id with
// secondary indexes by pair/channel, player and channel.
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]model.Player
	root    *node

	games     []model.GameRecord // games[seq-1]
	byPair    map[pairKey][]int64
	byPlayer  map[string][]int64
	byChannel map[string][]int64

	snapshots map[string][]model.RatingSnapshot

	now                   func() time.Time
	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore constructs an empty in-memory store with configuration options.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		players:               make(map[string]model.Player),
		byPair:                make(map[pairKey][]int64),
		byPlayer:              make(map[string][]int64),
		byChannel:             make(map[string][]int64),
		snapshots:             make(map[string][]model.RatingSnapshot),
		now:                   time.Now,
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		stopChan:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the background metrics goroutine.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, playerID string) (model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[playerID]
	if !ok {
		return model.Player{}, errs.NewKind("repository.get", errs.ErrNotFound)
	}
	return p, nil
}

// Put implements Store.Put.
func (s *MemoryStore) Put(_ context.Context, p model.Player) (model.Player, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.players[p.ID]; ok {
		return existing, nil
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.players[p.ID] = p
	s.root = insert(s.root, p.ID, p.Rating)
	return p, nil
}

// ConditionalUpdate implements Store.ConditionalUpdate in O(log n) expected time.
func (s *MemoryStore) ConditionalUpdate(_ context.Context, playerID string, expected, next int) error {
	const op = "repository.conditional_update"
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return errs.NewKind(op, errs.ErrNotFound)
	}
	if p.Rating != expected {
		return errs.NewKind(op, errs.ErrConflict)
	}
	if next == expected {
		return nil
	}
	s.root = deleteNode(s.root, playerID, p.Rating)
	p.Rating = next
	p.UpdatedAt = s.now()
	s.players[playerID] = p
	s.root = insert(s.root, playerID, next)
	return nil
}

// TopPlayers implements Store.TopPlayers.
func (s *MemoryStore) TopPlayers(_ context.Context, n int) ([]model.Player, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	capHint := len(s.players)
	if n > 0 && n < capHint {
		capHint = n
	}
	ids := make([]string, 0, capHint)
	collectTop(s.root, n, &ids)

	out := make([]model.Player, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.players[id])
	}
	return out, nil
}

// Count implements Store.Count.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players), nil
}

// Append implements Store.Append.
func (s *MemoryStore) Append(_ context.Context, rec model.GameRecord) (model.GameRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Seq = int64(len(s.games)) + 1
	rec.Active = true
	rec.UndoneAt = time.Time{}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.games = append(s.games, rec)

	key := newPairKey(rec.WinnerID, rec.LoserID, rec.ChannelID)
	s.byPair[key] = append(s.byPair[key], rec.Seq)
	s.byPlayer[rec.WinnerID] = append(s.byPlayer[rec.WinnerID], rec.Seq)
	s.byPlayer[rec.LoserID] = append(s.byPlayer[rec.LoserID], rec.Seq)
	s.byChannel[rec.ChannelID] = append(s.byChannel[rec.ChannelID], rec.Seq)
	return rec, nil
}

// Record implements Store.Record.
func (s *MemoryStore) Record(_ context.Context, seq int64) (model.GameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seq < 1 || seq > int64(len(s.games)) {
		return model.GameRecord{}, errs.NewKind("repository.record", errs.ErrNotFound)
	}
	return s.games[seq-1], nil
}

// Deactivate implements Store.Deactivate.
func (s *MemoryStore) Deactivate(_ context.Context, seq int64) error {
	const op = "repository.deactivate"

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < 1 || seq > int64(len(s.games)) {
		return errs.NewKind(op, errs.ErrNotFound)
	}
	rec := &s.games[seq-1]
	if !rec.Active {
		return errs.NewKind(op, errs.ErrAlreadyUndone)
	}
	rec.Active = false
	rec.UndoneAt = s.now()
	return nil
}

// Scan implements Store.Scan. Matches are copied under the read lock and
// yielded after it is released, so callers may use the store while iterating.
func (s *MemoryStore) Scan(_ context.Context, f Filter) iter.Seq2[model.GameRecord, error] {
	return func(yield func(model.GameRecord, error) bool) {
		start := time.Now()
		matched := s.collect(f)
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))

		if f.Reverse {
			slices.Reverse(matched)
		}
		for _, rec := range matched {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) collect(f Filter) []model.GameRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []int64
	switch {
	case f.PlayerA != "" && f.PlayerB != "" && f.ChannelID != "":
		candidates = s.byPair[newPairKey(f.PlayerA, f.PlayerB, f.ChannelID)]
	case f.PlayerA != "":
		candidates = s.byPlayer[f.PlayerA]
	case f.PlayerB != "":
		candidates = s.byPlayer[f.PlayerB]
	case f.ChannelID != "":
		candidates = s.byChannel[f.ChannelID]
	default:
		out := make([]model.GameRecord, 0, len(s.games))
		for _, rec := range s.games {
			if f.Match(rec) {
				out = append(out, rec)
			}
		}
		return out
	}

	out := make([]model.GameRecord, 0, len(candidates))
	for _, seq := range candidates {
		if rec := s.games[seq-1]; f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// AppendSnapshot implements Store.AppendSnapshot.
func (s *MemoryStore) AppendSnapshot(_ context.Context, snap model.RatingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now()
	}
	s.snapshots[snap.PlayerID] = append(s.snapshots[snap.PlayerID], snap)
	return nil
}

// Snapshots implements Store.Snapshots. History is ordered by timestamp,
// then by game sequence id, since asynchronous writers may append out of order.
func (s *MemoryStore) Snapshots(_ context.Context, playerID string) ([]model.RatingSnapshot, error) {
	s.mu.RLock()
	out := slices.Clone(s.snapshots[playerID])
	s.mu.RUnlock()

	slices.SortStableFunc(out, compareSnapshots)
	return out, nil
}

func compareSnapshots(a, b model.RatingSnapshot) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.GameSeq < b.GameSeq:
		return -1
	case a.GameSeq > b.GameSeq:
		return 1
	}
	return 0
}

// startMetricsUpdater starts a background goroutine that publishes store sizes.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics() {
	s.mu.RLock()
	players := len(s.players)
	games := len(s.games)
	s.mu.RUnlock()

	metrics.UpdatePlayersTotal(players)
	metrics.UpdateLedgerRecordsTotal(games)
}
