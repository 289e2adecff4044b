package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"go.hackfix.me/schemer/driver/types"
)

// PostgreSQL error codes.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	codeNotNullViolation    = "23502"
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
	codeLockNotAvailable    = "55P03"
	codeDeadlockDetected    = "40P01"
)

// Err converts an error returned by PostgreSQL for the given query into one of
// the driver error types.
func Err(query string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &types.QueryError{Query: query, Err: err}
	}

	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlockDetected:
		return &types.QueryError{Query: query, Err: fmt.Errorf("%w: %w", types.ErrLockHeld, err)}
	case codeNotNullViolation, codeForeignKeyViolation, codeUniqueViolation, codeCheckViolation:
		msg := pgErr.Message
		if pgErr.Detail != "" {
			msg = fmt.Sprintf("%s: %s", msg, pgErr.Detail)
		}
		return &types.QueryError{Query: query, Err: &types.IntegrityError{Msg: msg}}
	}

	return &types.QueryError{Query: query, Err: err}
}
