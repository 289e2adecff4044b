package atomizer

import "fmt"

// StructuralConflictError is returned when the added diffs contradict each
// other, so that no consistent operation order exists. E.g. a foreign key
// references a table that's dropped in the same batch.
type StructuralConflictError struct {
	Table  string
	Reason string
	Err    error
}

// Error returns a string representation of the error.
func (e *StructuralConflictError) Error() string {
	msg := fmt.Sprintf("structural conflict on table '%s': %s", e.Table, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *StructuralConflictError) Unwrap() error {
	return e.Err
}
