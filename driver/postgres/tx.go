package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"go.hackfix.me/schemer/driver/types"
	"go.hackfix.me/schemer/operation"
)

type tx struct {
	tx     pgx.Tx
	ctx    context.Context
	logger *slog.Logger
}

func (t *tx) exec(ctx context.Context, query string, args ...any) error {
	t.logger.Debug("executing statement", "query", query)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return Err(query, err)
	}
	return nil
}

func (t *tx) Execute(ctx context.Context, op operation.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	table := quote(op.Table)
	switch op.Kind {
	case operation.KindCreateTable:
		return t.exec(ctx, createTableSQL(*op.State))
	case operation.KindDropTable:
		return t.exec(ctx, fmt.Sprintf("DROP TABLE %s", table))
	case operation.KindAddColumn:
		return t.exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, columnDef(*op.Column)))
	case operation.KindDropColumn:
		return t.exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, quote(op.Column.Name)))
	case operation.KindRenameColumn:
		return t.exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			table, quote(op.Rename.From), quote(op.Rename.To)))
	case operation.KindAlterColumn:
		stmt := alterColumnSQL(op.Table, *op.From, *op.Column)
		if stmt == "" {
			return nil
		}
		return t.exec(ctx, stmt)
	case operation.KindAddIndex:
		return t.exec(ctx, createIndexSQL(op.Table, *op.Index))
	case operation.KindDropIndex:
		return t.exec(ctx, fmt.Sprintf("DROP INDEX %s", quote(op.Index.Name)))
	case operation.KindAddForeignKey:
		return t.exec(ctx, addForeignKeySQL(op.Table, *op.ForeignKey))
	case operation.KindDropForeignKey:
		return t.exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, quote(op.ForeignKey.Name)))
	case operation.KindSetPrimaryKey:
		return t.setPrimaryKey(ctx, op)
	}

	return &types.UnsupportedOperationError{Driver: string(types.DriverPostgres), Operation: op}
}

func (t *tx) setPrimaryKey(ctx context.Context, op operation.Operation) error {
	name, err := primaryKeyName(ctx, t.tx, op.Table)
	if err != nil {
		return err
	}
	if name != "" {
		if err = t.exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", quote(op.Table), quote(name))); err != nil {
			return err
		}
	}
	if len(op.PrimaryKey) == 0 {
		return nil
	}
	return t.exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", quote(op.Table), quoteAll(op.PrimaryKey)))
}

func (t *tx) InsertRecord(ctx context.Context, table string, rec types.Record) error {
	return t.exec(ctx,
		fmt.Sprintf("INSERT INTO %s (version, name, checksum, applied_at) VALUES ($1, $2, $3, $4)", quote(table)),
		int64(rec.Version), rec.Name, rec.Checksum, rec.AppliedAt.UTC()) //nolint:gosec // Versions fit in int64.
}

func (t *tx) DeleteRecord(ctx context.Context, table string, version uint64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE version = $1", quote(table))
	tag, err := t.tx.Exec(ctx, query, int64(version)) //nolint:gosec // Versions fit in int64.
	if err != nil {
		return Err(query, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record with version %d doesn't exist", version)
	}
	return nil
}

func (t *tx) Commit() error {
	if err := t.tx.Commit(context.WithoutCancel(t.ctx)); err != nil {
		return Err("COMMIT", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback(context.WithoutCancel(t.ctx))
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return Err("ROLLBACK", err)
	}
	return nil
}
