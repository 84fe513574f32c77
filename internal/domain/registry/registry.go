// Package registry owns players and their current ratings.
package registry

import (
	"context"
	"errors"

	"github.com/okian/versus/internal/domain/errs"
	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/pkg/metrics"
)

const defaultCASRetries = 16

// Store is the subset of the repository the registry needs.
type Store interface {
	Get(ctx context.Context, playerID string) (model.Player, error)
	Put(ctx context.Context, p model.Player) (model.Player, error)
	ConditionalUpdate(ctx context.Context, playerID string, expected, next int) error
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithDefaultRating sets the rating given to players on first appearance.
func WithDefaultRating(rating int) Option {
	return func(r *Registry) {
		r.defaultRating = rating
	}
}

// WithCASRetries bounds how many times AdjustRating retries a lost
// compare-and-swap before giving up with errs.ErrTimeout.
func WithCASRetries(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.casRetries = n
		}
	}
}

// Registry maps player ids to ratings.
type Registry struct {
	store         Store
	defaultRating int
	casRetries    int
}

// New creates a Registry backed by store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:         store,
		defaultRating: model.DefaultRating,
		casRetries:    defaultCASRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRating returns the rating assigned to new players.
func (r *Registry) DefaultRating() int { return r.defaultRating }

// GetOrCreate returns the player's rating, registering the player at the
// default rating if it has never been seen.
func (r *Registry) GetOrCreate(ctx context.Context, playerID string) (int, error) {
	const op = "registry.get_or_create"

	p, err := r.store.Get(ctx, playerID)
	if err == nil {
		return p.Rating, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return 0, errs.Wrap(op, err)
	}

	p, err = r.store.Put(ctx, model.Player{ID: playerID, Rating: r.defaultRating})
	if err != nil {
		return 0, errs.Wrap(op, err)
	}
	return p.Rating, nil
}

// Rating returns the current rating of a registered player.
func (r *Registry) Rating(ctx context.Context, playerID string) (int, error) {
	p, err := r.store.Get(ctx, playerID)
	if err != nil {
		return 0, errs.Wrap("registry.rating", err)
	}
	return p.Rating, nil
}

// AdjustRating adds delta to the player's rating and returns the new value.
func (r *Registry) AdjustRating(ctx context.Context, playerID string, delta int) (int, error) {
	const op = "registry.adjust_rating"

	for attempt := 0; attempt < r.casRetries; attempt++ {
		p, err := r.store.Get(ctx, playerID)
		if err != nil {
			return 0, errs.Wrap(op, err)
		}
		next := p.Rating + delta
		err = r.store.ConditionalUpdate(ctx, playerID, p.Rating, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, errs.ErrConflict) {
			return 0, errs.Wrap(op, err)
		}
		metrics.RecordCASRetry()
	}
	return 0, errs.NewKind(op, errs.ErrTimeout)
}
