package types

import (
	"context"
	"fmt"
	"time"

	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/schema"
)

// DriverType are the supported database backends.
type DriverType string

// All supported database backends.
const (
	DriverMemory   DriverType = "memory"
	DriverSQLite   DriverType = "sqlite"
	DriverPostgres DriverType = "postgres"
)

// DriverTypeFromString returns a valid DriverType for the given string, or an
// error if the value is invalid.
func DriverTypeFromString(val string) (DriverType, error) {
	switch DriverType(val) {
	case DriverMemory:
		return DriverMemory, nil
	case DriverSQLite:
		return DriverSQLite, nil
	case DriverPostgres, "postgresql":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver '%s'", val)
}

// Capabilities describes what a backend can do natively.
type Capabilities struct {
	// TransactionalDDL is true if structural changes can be rolled back.
	TransactionalDDL bool
	// AlterColumn is true if column definitions can be changed in place.
	AlterColumn bool
	// AlterConstraints is true if foreign keys and primary keys can be added
	// and dropped on existing tables.
	AlterConstraints bool
	// AdvisoryLock is true if the backend provides a lock that's shared across
	// processes and hosts.
	AdvisoryLock bool
}

// MySQLCapabilities returns the capabilities of MySQL-like backends, which
// implicitly commit every DDL statement.
func MySQLCapabilities() Capabilities {
	return Capabilities{AlterColumn: true, AlterConstraints: true, AdvisoryLock: true}
}

// SQLServerCapabilities returns the capabilities of SQL Server-like backends.
func SQLServerCapabilities() Capabilities {
	return Capabilities{TransactionalDDL: true, AlterColumn: true, AlterConstraints: true, AdvisoryLock: true}
}

// Record is a row of the migration state table. It exists for every applied
// migration unit.
type Record struct {
	Version   uint64
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// Driver is the interface to a database backend.
type Driver interface {
	// Name returns the name of the backend.
	Name() string

	// Capabilities returns what the backend can do natively.
	Capabilities() Capabilities

	// Introspect returns the current state of a table. If the table doesn't
	// exist, the returned state is empty and its Exists field is false.
	Introspect(ctx context.Context, table string) (schema.State, error)

	// Tables returns the names of all tables, sorted.
	Tables(ctx context.Context) ([]string, error)

	// HasTable reports whether the table exists.
	HasTable(ctx context.Context, table string) (bool, error)

	// Records returns all rows of the migration state table, ordered by
	// version.
	Records(ctx context.Context, table string) ([]Record, error)

	// Begin starts a transaction.
	Begin(ctx context.Context) (Tx, error)

	// Lock acquires an exclusive lock identified by key. The returned function
	// releases it. It returns ErrLockUnsupported if the backend can't lock,
	// and ErrLockHeld if the lock is held by someone else.
	Lock(ctx context.Context, key string) (release func() error, err error)

	// Close releases all resources.
	Close() error
}

// Tx is a database transaction. On backends without transactional DDL,
// structural changes are applied immediately, and Rollback only undoes changes
// to records.
type Tx interface {
	// Execute applies a structural operation.
	Execute(ctx context.Context, op operation.Operation) error

	// InsertRecord adds a row to the migration state table.
	InsertRecord(ctx context.Context, table string, rec Record) error

	// DeleteRecord removes the row of the given version from the migration state
	// table.
	DeleteRecord(ctx context.Context, table string, version uint64) error

	Commit() error
	Rollback() error
}
