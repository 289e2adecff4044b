package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"

	"go.hackfix.me/schemer/driver/types"
)

// lockPollInterval is how often a held lock is retried until the lock timeout.
const lockPollInterval = 250 * time.Millisecond

// lockID returns the advisory lock ID for the given key.
func lockID(key string) int64 {
	return int64(murmur3.Sum64([]byte(key))) //nolint:gosec // Any 64-bit value is a valid lock ID.
}

// Lock acquires a session-level advisory lock identified by key. The lock is
// tied to a dedicated connection, which is held until the lock is released.
func (d *Driver) Lock(ctx context.Context, key string) (func() error, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed acquiring connection: %w", err)
	}

	id := lockID(key)
	query := `SELECT pg_try_advisory_lock($1)`
	deadline := time.Now().Add(d.lockTimeout)
	for {
		var ok bool
		if err = conn.QueryRow(ctx, query, id).Scan(&ok); err != nil {
			conn.Release()
			return nil, Err(query, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			conn.Release()
			return nil, types.ErrLockHeld
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}

	d.logger.Debug("acquired advisory lock", "key", key, "id", id)

	return func() error {
		defer conn.Release()
		query := `SELECT pg_advisory_unlock($1)`
		if _, err := conn.Exec(context.Background(), query, id); err != nil {
			return Err(query, err)
		}
		return nil
	}, nil
}
