package sqlite

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.hackfix.me/schemer/driver/types"
)

// lockPollInterval is how often a held lock is retried until the lock timeout.
const lockPollInterval = 100 * time.Millisecond

// memLocks are the locks of memory databases, which can only be shared within
// the same process.
var memLocks sync.Map // map[string]*sync.Mutex

// Lock acquires an exclusive lock on the database. File databases are locked
// with an advisory lock on the file <path>.lock, which is shared across
// processes. The key is ignored, since the lock is specific to the database.
func (d *Driver) Lock(ctx context.Context, _ string) (func() error, error) {
	if isMemory(d.dsn) {
		mx, _ := memLocks.LoadOrStore(dbPath(d.dsn), &sync.Mutex{})
		return poll(ctx, d.lockTimeout, func() (func() error, error) {
			if !mx.(*sync.Mutex).TryLock() {
				return nil, types.ErrLockHeld
			}
			return func() error {
				mx.(*sync.Mutex).Unlock()
				return nil
			}, nil
		})
	}

	return poll(ctx, d.lockTimeout, func() (func() error, error) {
		return lockFile(dbPath(d.dsn) + ".lock")
	})
}

// poll calls tryLock until it succeeds, fails with an error other than
// ErrLockHeld, or the timeout expires.
func poll(ctx context.Context, timeout time.Duration, tryLock func() (func() error, error)) (func() error, error) {
	deadline := time.Now().Add(timeout)
	for {
		release, err := tryLock()
		if !errors.Is(err, types.ErrLockHeld) {
			return release, err
		}
		if !time.Now().Before(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
