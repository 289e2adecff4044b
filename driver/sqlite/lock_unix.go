//go:build unix

package sqlite

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"go.hackfix.me/schemer/driver/types"
)

func lockFile(path string) (func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed opening lock file: %w", err)
	}

	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil { //nolint:gosec // fd fits in int.
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, types.ErrLockHeld
		}
		return nil, fmt.Errorf("failed locking '%s': %w", path, err)
	}

	return func() error {
		uerr := unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:gosec // fd fits in int.
		return errors.Join(uerr, f.Close())
	}, nil
}
