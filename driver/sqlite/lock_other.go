//go:build !unix

package sqlite

import "go.hackfix.me/schemer/driver/types"

func lockFile(_ string) (func() error, error) {
	return nil, types.ErrLockUnsupported
}
