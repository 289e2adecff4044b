// Package postgres implements the PostgreSQL database driver.
//
// PostgreSQL supports transactional DDL and can change columns and
// constraints in place, so every operation maps to a single statement. Tables
// are resolved in the current schema of the connection.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"go.hackfix.me/schemer/driver/types"
)

// Driver is the PostgreSQL database driver.
type Driver struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ types.Driver = (*Driver)(nil)

// querier is implemented by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Option is a function that allows configuring the Driver.
type Option func(*Driver)

// WithLogger sets the logger used by the Driver.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger.With("component", "postgres")
	}
}

// WithLockTimeout sets how long Lock waits for a lock held by another session.
func WithLockTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.lockTimeout = timeout
	}
}

// Open connects to the PostgreSQL server at the given connection URL.
func Open(ctx context.Context, dsn string, opts ...Option) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed parsing PostgreSQL connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed creating PostgreSQL connection pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed connecting to PostgreSQL: %w", err)
	}

	d := &Driver{pool: pool, logger: slog.Default().With("component", "postgres")}
	for _, opt := range opts {
		opt(d)
	}

	d.logger.Debug("connected to database", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)

	return d, nil
}

// Pool returns the underlying connection pool.
func (d *Driver) Pool() *pgxpool.Pool {
	return d.pool
}

// Name returns the name of the backend.
func (d *Driver) Name() string {
	return string(types.DriverPostgres)
}

// Capabilities returns what the backend can do natively.
func (d *Driver) Capabilities() types.Capabilities {
	return types.Capabilities{
		TransactionalDDL: true,
		AlterColumn:      true,
		AlterConstraints: true,
		AdvisoryLock:     true,
	}
}

// Tables returns the names of all tables in the current schema, sorted.
func (d *Driver) Tables(ctx context.Context) ([]string, error) {
	query := `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, Err(query, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, Err(query, err)
	}
	return names, nil
}

// HasTable reports whether the table exists.
func (d *Driver) HasTable(ctx context.Context, table string) (bool, error) {
	return hasTable(ctx, d.pool, table)
}

func hasTable(ctx context.Context, q querier, table string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1)`
	var ok bool
	if err := q.QueryRow(ctx, query, table).Scan(&ok); err != nil {
		return false, Err(query, err)
	}
	return ok, nil
}

// Records returns all rows of the migration state table, ordered by version.
func (d *Driver) Records(ctx context.Context, table string) ([]types.Record, error) {
	query := fmt.Sprintf(`SELECT version, name, checksum, applied_at FROM %s ORDER BY version`, quote(table))
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, Err(query, err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Record, error) {
		var (
			rec     types.Record
			version int64
		)
		if err := row.Scan(&version, &rec.Name, &rec.Checksum, &rec.AppliedAt); err != nil {
			return rec, err
		}
		rec.Version = uint64(version) //nolint:gosec // Versions are always positive.
		rec.AppliedAt = rec.AppliedAt.UTC()
		return rec, nil
	})
	if err != nil {
		return nil, Err(query, err)
	}

	return recs, nil
}

// Begin starts a transaction.
func (d *Driver) Begin(ctx context.Context) (types.Tx, error) {
	pgTx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, Err("BEGIN", err)
	}
	return &tx{tx: pgTx, ctx: ctx, logger: d.logger}, nil
}

// Close closes all connections.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}
