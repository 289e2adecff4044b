package migrator

import (
	"errors"
	"log/slog"
	"time"
)

// Option is a function that allows configuring the Migrator.
type Option func(*Migrator) error

// WithTable sets the name of the migration state table.
func WithTable(name string) Option {
	return func(m *Migrator) error {
		if name == "" {
			return errors.New("migration table name is required")
		}
		m.table = name
		return nil
	}
}

// WithLockKey sets the key of the lock held during runs.
func WithLockKey(key string) Option {
	return func(m *Migrator) error {
		m.lockKey = key
		return nil
	}
}

// WithLogger sets the logger used by the Migrator.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) error {
		m.logger = logger.With("component", "migrator")
		return nil
	}
}

// WithTimeNow sets the function used to retrieve the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(m *Migrator) error {
		m.timeNow = timeNow
		return nil
	}
}

// DefaultOptions returns the default Migrator options.
func DefaultOptions() []Option {
	return []Option{
		WithTable(DefaultTable),
		WithLockKey(DefaultTable),
		WithLogger(slog.Default()),
		WithTimeNow(time.Now),
	}
}
