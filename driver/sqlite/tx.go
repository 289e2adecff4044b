package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.hackfix.me/schemer/driver/types"
	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/schema"
)

// rebuildPrefix is the name prefix of the temporary tables created when
// rebuilding a table.
const rebuildPrefix = "_schemer_new_"

type tx struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *slog.Logger
}

func (t *tx) exec(ctx context.Context, query string, args ...any) error {
	t.logger.Debug("executing statement", "query", query)
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return Err(query, err)
	}
	return nil
}

func (t *tx) Execute(ctx context.Context, op operation.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	switch op.Kind {
	case operation.KindCreateTable:
		return t.exec(ctx, createTableSQL(op.Table, *op.State))
	case operation.KindDropTable:
		return t.exec(ctx, fmt.Sprintf("DROP TABLE %s", quote(op.Table)))
	case operation.KindAddColumn:
		if !op.Column.Nullable && !op.Column.Default.Valid {
			// SQLite can't add a NOT NULL column without a default value.
			return t.rebuild(ctx, op.Table, func(st *schema.State) error {
				if st.HasColumn(op.Column.Name) {
					return fmt.Errorf("column '%s.%s' already exists", op.Table, op.Column.Name)
				}
				st.Columns = append(st.Columns, *op.Column)
				return nil
			})
		}
		return t.exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quote(op.Table), columnDef(*op.Column)))
	case operation.KindDropColumn:
		return t.exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quote(op.Table), quote(op.Column.Name)))
	case operation.KindRenameColumn:
		return t.exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			quote(op.Table), quote(op.Rename.From), quote(op.Rename.To)))
	case operation.KindAlterColumn:
		return t.rebuild(ctx, op.Table, func(st *schema.State) error {
			i := slices.IndexFunc(st.Columns, func(c schema.Column) bool { return c.Name == op.Column.Name })
			if i < 0 {
				return fmt.Errorf("column '%s.%s' doesn't exist", op.Table, op.Column.Name)
			}
			st.Columns[i] = *op.Column
			return nil
		})
	case operation.KindAddIndex:
		return t.exec(ctx, createIndexSQL(op.Table, *op.Index))
	case operation.KindDropIndex:
		return t.exec(ctx, fmt.Sprintf("DROP INDEX %s", quote(op.Index.Name)))
	case operation.KindAddForeignKey:
		ok, err := hasTable(ctx, t.tx, op.ForeignKey.RefTable)
		if err != nil {
			return err
		}
		if !ok && op.ForeignKey.RefTable != op.Table {
			return fmt.Errorf("referenced table '%s' doesn't exist", op.ForeignKey.RefTable)
		}
		return t.rebuild(ctx, op.Table, func(st *schema.State) error {
			st.ForeignKeys = append(st.ForeignKeys, *op.ForeignKey)
			return nil
		})
	case operation.KindDropForeignKey:
		return t.rebuild(ctx, op.Table, func(st *schema.State) error {
			i := slices.IndexFunc(st.ForeignKeys, func(fk schema.ForeignKey) bool {
				return fk.Name == op.ForeignKey.Name ||
					(fk.RefTable == op.ForeignKey.RefTable && slices.Equal(fk.Columns, op.ForeignKey.Columns))
			})
			if i < 0 {
				return fmt.Errorf("foreign key '%s' doesn't exist in table '%s'", op.ForeignKey.Name, op.Table)
			}
			st.ForeignKeys = slices.Delete(st.ForeignKeys, i, i+1)
			return nil
		})
	case operation.KindSetPrimaryKey:
		return t.rebuild(ctx, op.Table, func(st *schema.State) error {
			st.PrimaryKey = slices.Clone(op.PrimaryKey)
			return nil
		})
	}

	return &types.UnsupportedOperationError{Driver: string(types.DriverSQLite), Operation: op}
}

// rebuild changes the structure of a table by creating a new table with the
// structure returned by mutate, copying all rows, and replacing the old table.
// See https://www.sqlite.org/lang_altertable.html#otheralter
func (t *tx) rebuild(ctx context.Context, table string, mutate func(*schema.State) error) error {
	cur, err := introspect(ctx, t.tx, table)
	if err != nil {
		return err
	}
	if !cur.Exists {
		return fmt.Errorf("table '%s' doesn't exist", table)
	}

	target := cur.Clone()
	if err = mutate(&target); err != nil {
		return err
	}
	if err = target.Validate(); err != nil {
		return err
	}

	tmp := rebuildPrefix + table
	if err = t.exec(ctx, createTableSQL(tmp, target)); err != nil {
		return err
	}

	var cols, exprs []string
	for _, col := range target.Columns {
		if !cur.HasColumn(col.Name) {
			continue
		}
		cols = append(cols, quote(col.Name))
		expr := quote(col.Name)
		if !col.Nullable && col.Default.Valid {
			expr = fmt.Sprintf("COALESCE(%s, %s)", expr, col.Default.V)
		}
		exprs = append(exprs, expr)
	}
	if len(cols) > 0 {
		err = t.exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			quote(tmp), strings.Join(cols, ", "), strings.Join(exprs, ", "), quote(table)))
		if err != nil {
			return err
		}
	}

	if err = t.exec(ctx, fmt.Sprintf("DROP TABLE %s", quote(table))); err != nil {
		return err
	}
	if err = t.exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quote(tmp), quote(table))); err != nil {
		return err
	}
	for _, idx := range target.Indexes {
		if err = t.exec(ctx, createIndexSQL(table, idx)); err != nil {
			return err
		}
	}

	t.logger.Debug("rebuilt table", "table", table)

	return nil
}

func (t *tx) InsertRecord(ctx context.Context, table string, rec types.Record) error {
	return t.exec(ctx,
		fmt.Sprintf("INSERT INTO %s (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)", quote(table)),
		int64(rec.Version), rec.Name, rec.Checksum, //nolint:gosec // Versions fit in int64.
		rec.AppliedAt.UTC().Format(time.RFC3339Nano))
}

func (t *tx) DeleteRecord(ctx context.Context, table string, version uint64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE version = ?", quote(table))
	res, err := t.tx.ExecContext(ctx, query, int64(version)) //nolint:gosec // Versions fit in int64.
	if err != nil {
		return Err(query, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record with version %d doesn't exist", version)
	}
	return nil
}

// Commit verifies referential integrity of all tables, and commits the
// transaction. The transaction is rolled back if the check fails.
func (t *tx) Commit() error {
	if err := t.checkForeignKeys(); err != nil {
		_ = t.tx.Rollback()
		return err
	}
	if err := t.tx.Commit(); err != nil {
		return Err("COMMIT", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return Err("ROLLBACK", err)
	}
	return nil
}

func (t *tx) checkForeignKeys() error {
	query := `PRAGMA foreign_key_check`
	rows, err := t.tx.QueryContext(context.WithoutCancel(t.ctx), query)
	if err != nil {
		return Err(query, err)
	}
	defer rows.Close()

	var violations []string
	for rows.Next() {
		var (
			table, parent string
			rowid         sql.NullInt64
			fkid          int
		)
		if err = rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed scanning foreign key violation: %w", err)
		}
		violations = append(violations,
			fmt.Sprintf("row %d of table '%s' references a missing row in '%s'", rowid.Int64, table, parent))
	}
	if err = rows.Err(); err != nil {
		return Err(query, err)
	}

	if len(violations) > 0 {
		return &types.IntegrityError{Msg: strings.Join(violations, "; ")}
	}

	return nil
}
