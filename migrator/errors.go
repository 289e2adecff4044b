package migrator

import (
	"fmt"

	"go.hackfix.me/schemer/operation"
)

// OrderingConflictError is returned when a run would apply or revert units out
// of order relative to the recorded history. It's detected before any unit is
// executed.
type OrderingConflictError struct {
	Direction Direction
	Version   uint64
	Name      string
	// Highest is the highest applied version.
	Highest uint64
	Reason  string
}

// Error returns a string representation of the error.
func (e *OrderingConflictError) Error() string {
	unit := fmt.Sprintf("%d", e.Version)
	if e.Name != "" {
		unit = fmt.Sprintf("%d_%s", e.Version, e.Name)
	}
	return fmt.Sprintf("ordering conflict: cannot migrate %s unit %s: %s", e.Direction, unit, e.Reason)
}

// ExecutionError is returned when an operation of a unit fails.
type ExecutionError struct {
	Version uint64
	Name    string
	// Index is the position of the failed operation in the unit's operation
	// sequence, or -1 if updating the state table failed.
	Index     int
	Operation operation.Operation
	Err       error
	// RolledBack is true if all changes made by the unit were undone.
	RolledBack bool
}

// Error returns a string representation of the error.
func (e *ExecutionError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("unit %d_%s: failed updating migration state: %s", e.Version, e.Name, e.Err)
	}
	return fmt.Sprintf("unit %d_%s: operation %d (%s) failed: %s", e.Version, e.Name, e.Index, e.Operation, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// LockUnavailableError is returned when the migration lock can't be acquired.
type LockUnavailableError struct {
	Key string
	Err error
}

// Error returns a string representation of the error.
func (e *LockUnavailableError) Error() string {
	return fmt.Sprintf("failed acquiring migration lock '%s': %s", e.Key, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *LockUnavailableError) Unwrap() error {
	return e.Err
}
