package types

import (
	"errors"
	"fmt"

	"go.hackfix.me/schemer/operation"
)

var (
	// ErrLockUnsupported is returned by drivers that can't provide a lock.
	ErrLockUnsupported = errors.New("locking is not supported by this driver")
	// ErrLockHeld is returned when the lock is held by someone else.
	ErrLockHeld = errors.New("lock is held by another process")
)

// UnsupportedOperationError is returned when a backend can't express an
// operation.
type UnsupportedOperationError struct {
	Driver    string
	Operation operation.Operation
	Reason    string
}

// Error returns a string representation of the error.
func (e *UnsupportedOperationError) Error() string {
	msg := fmt.Sprintf("%s driver can't %s", e.Driver, e.Operation)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	return msg
}

// QueryError is returned when a statement fails on the backend.
type QueryError struct {
	Query string
	Err   error
}

// Error returns a string representation of the error.
func (e *QueryError) Error() string {
	return fmt.Sprintf("failed executing '%s': %s", e.Query, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when a structural change would violate the
// integrity of existing data, e.g. by orphaning rows referenced by a foreign
// key.
type IntegrityError struct {
	Msg string
}

// Error returns a string representation of the error.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error: %s", e.Msg)
}
