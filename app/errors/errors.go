// Package errors contains the error types returned at the application
// boundary, and the functions that render them for the user.
package errors

import (
	"errors"
	"log/slog"
	"slices"
)

// RuntimeError is an error that occurred while executing a command. It
// optionally includes a hint for the user about how to resolve it.
type RuntimeError struct {
	*StructuredError
	Hint string
}

// NewRuntimeError returns a new RuntimeError with the given message, cause and
// hint.
func NewRuntimeError(msg string, cause error, hint string, fields ...any) *RuntimeError {
	return &RuntimeError{StructuredError: NewWithCause(msg, cause, fields...), Hint: hint}
}

// Unwrap allows errors.Is and errors.As to reach the embedded error.
func (e *RuntimeError) Unwrap() error {
	return e.StructuredError
}

// Errorf logs an error using the default slog logger, rendering the cause,
// metadata and hint of structured errors as fields.
func Errorf(err error) {
	var hint string
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		hint = rerr.Hint
	}

	var serr *StructuredError
	if !errors.As(err, &serr) {
		args := []any{}
		if hint != "" {
			args = append(args, "hint", hint)
		}
		slog.Error(err.Error(), args...)
		return
	}

	args := make([]any, 0, len(serr.metadata)*2+4)
	cause := serr.metadata["cause"]
	if serr.cause != nil {
		cause = serr.cause.Error()
	}
	if cause != nil {
		args = append(args, "cause", cause)
	}

	keys := make([]string, 0, len(serr.metadata))
	for k := range serr.metadata {
		if k != "cause" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, k, serr.metadata[k])
	}

	if hint != "" {
		args = append(args, "hint", hint)
	}

	slog.Error(serr.Error(), args...)
}
