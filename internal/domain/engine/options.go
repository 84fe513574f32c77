package engine

import (
	"time"

	"github.com/okian/versus/internal/domain/elo"
	"github.com/okian/versus/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithModel sets the rating model.
func WithModel(m elo.Model) Option {
	return func(e *Engine) {
		e.model = m
	}
}

// WithLockTimeout bounds how long a transaction waits for its player locks.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

// WithPublisher routes rating snapshots through an asynchronous queue. When
// the publisher refuses a snapshot it is written synchronously instead.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
