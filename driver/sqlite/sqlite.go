// Package sqlite implements the SQLite database driver.
//
// SQLite supports transactional DDL, but can only add, drop and rename columns
// in place. Other structural changes are made by rebuilding the table inside
// the unit's transaction. Foreign key enforcement is disabled on the migration
// connection, and referential integrity is verified before every commit.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"

	"go.hackfix.me/schemer/driver/types"
)

// Driver is the SQLite database driver.
type Driver struct {
	db          *sql.DB
	dsn         string
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ types.Driver = (*Driver)(nil)

// Option is a function that allows configuring the Driver.
type Option func(*Driver)

// WithLogger sets the logger used by the Driver.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger.With("component", "sqlite")
	}
}

// WithLockTimeout sets how long Lock waits for a lock held by another process.
func WithLockTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.lockTimeout = timeout
	}
}

// Open opens the SQLite database at the given DSN, which is either a file path
// or a URI, e.g. file:test?mode=memory&cache=shared.
func Open(ctx context.Context, dsn string, opts ...Option) (*Driver, error) {
	if dsn == "" {
		return nil, fmt.Errorf("SQLite database path is required")
	}

	sqliteDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	// A single connection, so that PRAGMAs and transactions apply to all
	// queries, and memory databases live as long as the Driver.
	sqliteDB.SetMaxOpenConns(1)
	if isMemory(dsn) {
		// See https://github.com/mattn/go-sqlite3#faq
		sqliteDB.SetMaxIdleConns(1)
		sqliteDB.SetConnMaxLifetime(time.Duration(math.Inf(1)))
	}

	d := &Driver{db: sqliteDB, dsn: dsn, logger: slog.Default().With("component", "sqlite")}
	for _, opt := range opts {
		opt(d)
	}

	// Tables are rebuilt while other tables still reference them, so
	// enforcement is replaced by an explicit check before commit.
	if _, err = d.db.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		_ = sqliteDB.Close()
		return nil, fmt.Errorf("failed disabling foreign key enforcement: %w", err)
	}
	if _, err = d.db.ExecContext(ctx, `PRAGMA legacy_alter_table = OFF`); err != nil {
		_ = sqliteDB.Close()
		return nil, fmt.Errorf("failed configuring SQLite connection: %w", err)
	}

	d.logger.Debug("opened database", "dsn", dsn)

	return d, nil
}

// DB returns the underlying database handle.
func (d *Driver) DB() *sql.DB {
	return d.db
}

// Name returns the name of the backend.
func (d *Driver) Name() string {
	return string(types.DriverSQLite)
}

// Capabilities returns what the backend can do natively.
func (d *Driver) Capabilities() types.Capabilities {
	return types.Capabilities{TransactionalDDL: true}
}

// Tables returns the names of all tables, sorted.
func (d *Driver) Tables(ctx context.Context) ([]string, error) {
	return tables(ctx, d.db)
}

// HasTable reports whether the table exists.
func (d *Driver) HasTable(ctx context.Context, table string) (bool, error) {
	return hasTable(ctx, d.db, table)
}

// Records returns all rows of the migration state table, ordered by version.
func (d *Driver) Records(ctx context.Context, table string) ([]types.Record, error) {
	query := fmt.Sprintf(`SELECT version, name, checksum, applied_at FROM %s ORDER BY version`, quote(table))
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, Err(query, err)
	}
	defer rows.Close()

	var recs []types.Record
	for rows.Next() {
		var (
			rec       types.Record
			version   int64
			appliedAt string
		)
		if err = rows.Scan(&version, &rec.Name, &rec.Checksum, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed scanning migration record: %w", err)
		}
		rec.Version = uint64(version) //nolint:gosec // Versions are always positive.
		if rec.AppliedAt, err = parseTime(appliedAt); err != nil {
			return nil, fmt.Errorf("invalid applied time of migration %d: %w", version, err)
		}
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, Err(query, err)
	}

	return recs, nil
}

// Begin starts a transaction.
func (d *Driver) Begin(ctx context.Context) (types.Tx, error) {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, Err("BEGIN", err)
	}
	return &tx{tx: sqlTx, ctx: ctx, logger: d.logger}, nil
}

// Close closes the database.
func (d *Driver) Close() error {
	return d.db.Close()
}

func isMemory(dsn string) bool {
	return strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:")
}

// dbPath returns the file path of a DSN, without the URI scheme and query.
func dbPath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(val string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, val); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}
