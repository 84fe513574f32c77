// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and environment variables on top of New().
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Storage selects the persistence backend: memory or sqlite.
	Storage string `koanf:"storage"`

	// SQLitePath is the database file used when Storage is sqlite.
	SQLitePath string `koanf:"sqlite_path"`

	// KFactor and GFactor scale every rating change.
	KFactor float64 `koanf:"k_factor"`
	GFactor float64 `koanf:"g_factor"`

	// DefaultRating is assigned to players on first appearance.
	DefaultRating int `koanf:"default_rating"`

	// LockTimeoutMS bounds how long a game waits for its players' locks.
	LockTimeoutMS int `koanf:"lock_timeout_ms"`

	// CASRetries bounds optimistic rating update attempts.
	CASRetries int `koanf:"cas_retries"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// IdempotencySize bounds the number of remembered request ids.
	IdempotencySize int `koanf:"idempotency_size"`

	// SnapshotQueueSize bounds the asynchronous rating history queue.
	SnapshotQueueSize int `koanf:"snapshot_queue_size"`

	// SnapshotWorkers sets the number of rating history writers.
	SnapshotWorkers int `koanf:"snapshot_workers"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		Storage:             StorageMemory,
		SQLitePath:          "versus.db",
		KFactor:             20,
		GFactor:             1,
		DefaultRating:       1500,
		LockTimeoutMS:       2000,
		CASRetries:          16,
		MaxLeaderboardLimit: 100,
		IdempotencySize:     50_000,
		SnapshotQueueSize:   10_000,
		SnapshotWorkers:     runtime.NumCPU(),
	}
}

// LockTimeout returns LockTimeoutMS as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Storage != StorageMemory && c.Storage != StorageSQLite:
		return fmt.Errorf("%w: storage must be %q or %q, got %q", ErrInvalidConfig, StorageMemory, StorageSQLite, c.Storage)
	case c.Storage == StorageSQLite && c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path must not be empty", ErrInvalidConfig)
	case c.KFactor <= 0:
		return fmt.Errorf("%w: k_factor must be positive", ErrInvalidConfig)
	case c.GFactor <= 0:
		return fmt.Errorf("%w: g_factor must be positive", ErrInvalidConfig)
	case c.LockTimeoutMS <= 0:
		return fmt.Errorf("%w: lock_timeout_ms must be positive", ErrInvalidConfig)
	case c.CASRetries <= 0:
		return fmt.Errorf("%w: cas_retries must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit <= 0:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	case c.IdempotencySize < 0:
		return fmt.Errorf("%w: idempotency_size must not be negative", ErrInvalidConfig)
	case c.SnapshotQueueSize <= 0:
		return fmt.Errorf("%w: snapshot_queue_size must be positive", ErrInvalidConfig)
	}
	return nil
}
