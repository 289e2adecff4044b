// Package driver opens database drivers by backend type.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.hackfix.me/schemer/driver/memory"
	"go.hackfix.me/schemer/driver/postgres"
	"go.hackfix.me/schemer/driver/sqlite"
	"go.hackfix.me/schemer/driver/types"
)

// Open returns a driver for the given backend, connected to the database at
// dsn. lockTimeout is how long the migration lock is waited for if it's held.
func Open(
	ctx context.Context, dt types.DriverType, dsn string, lockTimeout time.Duration,
	logger *slog.Logger,
) (types.Driver, error) {
	var (
		drv types.Driver
		err error
	)
	switch dt {
	case types.DriverMemory:
		drv = memory.New()
	case types.DriverSQLite:
		drv, err = sqlite.Open(ctx, dsn, sqlite.WithLogger(logger), sqlite.WithLockTimeout(lockTimeout))
	case types.DriverPostgres:
		drv, err = postgres.Open(ctx, dsn, postgres.WithLogger(logger), postgres.WithLockTimeout(lockTimeout))
	default:
		return nil, fmt.Errorf("unsupported database driver '%s'", dt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed opening %s database: %w", dt, err)
	}

	return drv, nil
}
