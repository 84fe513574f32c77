// Package query answers read-only questions about ratings and games.
package query

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"

	"github.com/okian/versus/internal/adapters/repository"
	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
)

// Players is the read side of the player store.
type Players interface {
	Get(ctx context.Context, playerID string) (model.Player, error)
	TopPlayers(ctx context.Context, n int) ([]model.Player, error)
	Snapshots(ctx context.Context, playerID string) ([]model.RatingSnapshot, error)
}

// Games is the read side of the ledger.
type Games interface {
	ListActive(ctx context.Context, f repository.Filter) iter.Seq2[model.GameRecord, error]
	ListByChannel(ctx context.Context, channelID string) iter.Seq2[model.GameRecord, error]
}

// Viewer runs fn against a state with no half-applied transaction.
type Viewer interface {
	View(fn func() error) error
}

type directView struct{}

func (directView) View(fn func() error) error { return fn() }

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithViewer makes multi-read queries run inside v.
func WithViewer(v Viewer) Option {
	return func(s *Service) {
		if v != nil {
			s.viewer = v
		}
	}
}

// Service answers queries. It never writes.
type Service struct {
	players Players
	games   Games
	viewer  Viewer
}

// New creates a query Service.
func New(players Players, games Games, opts ...Option) *Service {
	s := &Service{players: players, games: games, viewer: directView{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PairwiseRecord counts a's active wins and losses against b. An empty
// channel counts every channel.
func (s *Service) PairwiseRecord(ctx context.Context, a, b, channelID string) (model.Record, error) {
	const op = "query.pairwise_record"
	if a == "" || b == "" || a == b {
		return model.Record{}, errs.NewKind(op, errs.ErrInvalidArgument)
	}
	rec, err := s.tally(ctx, a, repository.Filter{PlayerA: a, PlayerB: b, ChannelID: channelID})
	return rec, errs.Wrap(op, err)
}

// PlayerRecord counts the player's active wins and losses against everyone.
func (s *Service) PlayerRecord(ctx context.Context, playerID, channelID string) (model.Record, error) {
	const op = "query.player_record"
	if playerID == "" {
		return model.Record{}, errs.NewKind(op, errs.ErrInvalidArgument)
	}
	rec, err := s.tally(ctx, playerID, repository.Filter{PlayerA: playerID, ChannelID: channelID})
	return rec, errs.Wrap(op, err)
}

func (s *Service) tally(ctx context.Context, playerID string, f repository.Filter) (model.Record, error) {
	var out model.Record
	for g, err := range s.games.ListActive(ctx, f) {
		if err != nil {
			return model.Record{}, err
		}
		switch playerID {
		case g.WinnerID:
			out.Wins++
		case g.LoserID:
			out.Losses++
		}
	}
	return out, nil
}

// Leaderboard lists players by rating, best first, ties by id. An empty
// channel ranks every registered player; otherwise the players are those
// appearing in the channel's active games. limit <= 0 returns everyone.
func (s *Service) Leaderboard(ctx context.Context, channelID string, limit int) ([]model.Standing, error) {
	const op = "query.leaderboard"

	var out []model.Standing
	err := s.viewer.View(func() error {
		var err error
		if channelID == "" {
			out, err = s.global(ctx, limit)
		} else {
			out, err = s.channel(ctx, channelID, limit)
		}
		return err
	})
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	assignRanksWithTies(out)
	return out, nil
}

func (s *Service) global(ctx context.Context, limit int) ([]model.Standing, error) {
	players, err := s.players.TopPlayers(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Standing, 0, len(players))
	for _, p := range players {
		out = append(out, model.Standing{PlayerID: p.ID, Rating: p.Rating})
	}
	return out, nil
}

func (s *Service) channel(ctx context.Context, channelID string, limit int) ([]model.Standing, error) {
	seen := make(map[string]struct{})
	for g, err := range s.games.ListActive(ctx, repository.Filter{ChannelID: channelID}) {
		if err != nil {
			return nil, err
		}
		seen[g.WinnerID] = struct{}{}
		seen[g.LoserID] = struct{}{}
	}

	out := make([]model.Standing, 0, len(seen))
	for id := range seen {
		p, err := s.players.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Standing{PlayerID: id, Rating: p.Rating})
	}
	sortStandings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// sortStandings orders by rating desc, then player id asc.
func sortStandings(entries []model.Standing) {
	slices.SortFunc(entries, func(a, b model.Standing) int {
		if a.Rating != b.Rating {
			return b.Rating - a.Rating
		}
		return strings.Compare(a.PlayerID, b.PlayerID)
	})
}

// assignRanksWithTies gives equal ratings the same rank; the next distinct
// rating gets the next rank.
func assignRanksWithTies(entries []model.Standing) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Rating != entries[i-1].Rating {
			rank++
		}
		entries[i].Rank = rank
	}
}

// Rating returns the player's current rating.
func (s *Service) Rating(ctx context.Context, playerID string) (model.Player, error) {
	p, err := s.players.Get(ctx, playerID)
	if err != nil {
		return model.Player{}, errs.Wrap("query.rating", err)
	}
	return p, nil
}

// History returns the player's rating snapshots, oldest first.
func (s *Service) History(ctx context.Context, playerID string) ([]model.RatingSnapshot, error) {
	const op = "query.history"
	if _, err := s.players.Get(ctx, playerID); err != nil {
		return nil, errs.Wrap(op, err)
	}
	snaps, err := s.players.Snapshots(ctx, playerID)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	return snaps, nil
}

// ChannelGames returns every game logged in the channel, undone ones
// included, in the order they were reported.
func (s *Service) ChannelGames(ctx context.Context, channelID string) ([]model.GameRecord, error) {
	const op = "query.channel_games"
	if channelID == "" {
		return nil, errs.WrapKind(op, errs.ErrInvalidArgument, errors.New("channel id is required"))
	}
	var out []model.GameRecord
	for g, err := range s.games.ListByChannel(ctx, channelID) {
		if err != nil {
			return nil, errs.Wrap(op, err)
		}
		out = append(out, g)
	}
	return out, nil
}
