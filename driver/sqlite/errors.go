package sqlite

import (
	"errors"
	"fmt"

	"github.com/glebarez/go-sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"go.hackfix.me/schemer/driver/types"
)

// Err converts an error returned by SQLite for the given query into one of the
// driver error types.
func Err(query string, err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return &types.QueryError{Query: query, Err: err}
	}

	switch sqlErr.Code() {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return &types.QueryError{Query: query, Err: fmt.Errorf("%w: %w", types.ErrLockHeld, err)}
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL, sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
		sqlite3.SQLITE_CONSTRAINT_CHECK:
		return &types.QueryError{Query: query, Err: &types.IntegrityError{Msg: sqlErr.Error()}}
	}

	return &types.QueryError{Query: query, Err: err}
}
