package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"go.hackfix.me/schemer/schema"
)

// Introspect returns the current state of a table.
func (d *Driver) Introspect(ctx context.Context, table string) (schema.State, error) {
	return introspect(ctx, d.pool, table)
}

func introspect(ctx context.Context, q querier, table string) (schema.State, error) {
	ok, err := hasTable(ctx, q, table)
	if err != nil || !ok {
		return schema.NewState(table), err
	}

	st := schema.State{Name: table, Exists: true}
	if st.Columns, err = getColumns(ctx, q, table); err != nil {
		return st, err
	}
	if st.PrimaryKey, err = getPrimaryKey(ctx, q, table); err != nil {
		return st, err
	}
	if st.Indexes, err = getIndexes(ctx, q, table); err != nil {
		return st, err
	}
	if st.ForeignKeys, err = getForeignKeys(ctx, q, table); err != nil {
		return st, err
	}

	return st, nil
}

func getColumns(ctx context.Context, q querier, table string) ([]schema.Column, error) {
	query := `
		SELECT
			c.column_name,
			c.data_type,
			c.character_maximum_length,
			c.numeric_precision,
			c.numeric_scale,
			c.is_nullable,
			c.column_default
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position`

	rows, err := q.Query(ctx, query, table)
	if err != nil {
		return nil, Err(query, err)
	}

	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Column, error) {
		var (
			col                                   schema.Column
			dataType, isNullable                  string
			charMaxLength, numPrecision, numScale sql.NullInt64
			columnDefault                         sql.NullString
		)
		err := row.Scan(&col.Name, &dataType, &charMaxLength, &numPrecision, &numScale, &isNullable, &columnDefault)
		if err != nil {
			return col, err
		}
		col.Type = mapType(dataType)
		col.Nullable = isNullable == "YES"
		switch col.Type {
		case schema.TypeString:
			col.Size = int(charMaxLength.Int64)
		case schema.TypeDecimal:
			col.Precision, col.Scale = int(numPrecision.Int64), int(numScale.Int64)
		}
		if columnDefault.Valid {
			col.Default = sql.Null[string]{V: stripCast(columnDefault.String), Valid: true}
		}
		return col, nil
	})
	if err != nil {
		return nil, Err(query, err)
	}

	return cols, nil
}

func getPrimaryKey(ctx context.Context, q querier, table string) ([]string, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.key_column_usage kcu
		JOIN information_schema.table_constraints tc
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND kcu.table_schema = current_schema()
			AND kcu.table_name = $1
		ORDER BY kcu.ordinal_position`

	rows, err := q.Query(ctx, query, table)
	if err != nil {
		return nil, Err(query, err)
	}
	pk, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, Err(query, err)
	}

	return pk, nil
}

// primaryKeyName returns the name of the primary key constraint of the table,
// or an empty string if it has none.
func primaryKeyName(ctx context.Context, q querier, table string) (string, error) {
	query := `
		SELECT con.conname
		FROM pg_constraint con
		JOIN pg_class rel ON rel.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = rel.relnamespace
		WHERE con.contype = 'p' AND n.nspname = current_schema() AND rel.relname = $1`

	rows, err := q.Query(ctx, query, table)
	if err != nil {
		return "", Err(query, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", Err(query, err)
	}
	if len(names) == 0 {
		return "", nil
	}

	return names[0], nil
}

// getIndexes returns the indexes of the table, except the ones backing
// primary key and unique constraints.
func getIndexes(ctx context.Context, q querier, table string) ([]schema.Index, error) {
	query := `
		SELECT
			ic.relname,
			idx.indisunique,
			ARRAY(
				SELECT a.attname
				FROM unnest(idx.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = idx.indrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			)::text[]
		FROM pg_index idx
		JOIN pg_class ic ON ic.oid = idx.indexrelid
		JOIN pg_class c ON c.oid = idx.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema() AND c.relname = $1
			AND NOT idx.indisprimary
			AND NOT EXISTS (
				SELECT 1 FROM pg_constraint con
				WHERE con.conindid = idx.indexrelid AND con.contype IN ('p', 'u')
			)
		ORDER BY ic.relname`

	rows, err := q.Query(ctx, query, table)
	if err != nil {
		return nil, Err(query, err)
	}
	indexes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Index, error) {
		var idx schema.Index
		err := row.Scan(&idx.Name, &idx.Unique, &idx.Columns)
		return idx, err
	})
	if err != nil {
		return nil, Err(query, err)
	}

	return indexes, nil
}

func getForeignKeys(ctx context.Context, q querier, table string) ([]schema.ForeignKey, error) {
	query := `
		SELECT
			con.conname,
			ARRAY(
				SELECT a.attname
				FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			)::text[],
			ref.relname,
			ARRAY(
				SELECT a.attname
				FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			)::text[],
			con.confdeltype::text,
			con.confupdtype::text
		FROM pg_constraint con
		JOIN pg_class rel ON rel.oid = con.conrelid
		JOIN pg_namespace n ON n.oid = rel.relnamespace
		JOIN pg_class ref ON ref.oid = con.confrelid
		WHERE con.contype = 'f' AND n.nspname = current_schema() AND rel.relname = $1
		ORDER BY con.conname`

	rows, err := q.Query(ctx, query, table)
	if err != nil {
		return nil, Err(query, err)
	}
	fks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.ForeignKey, error) {
		var (
			fk                 schema.ForeignKey
			onDelete, onUpdate string
		)
		if err := row.Scan(&fk.Name, &fk.Columns, &fk.RefTable, &fk.RefColumns, &onDelete, &onUpdate); err != nil {
			return fk, err
		}
		fk.OnDelete, fk.OnUpdate = actions[onDelete], actions[onUpdate]
		return fk, nil
	})
	if err != nil {
		return nil, Err(query, err)
	}

	return fks, nil
}

// actions maps the referential action codes of pg_constraint.
var actions = map[string]schema.Action{
	"a": schema.ActionNoAction,
	"r": schema.ActionRestrict,
	"c": schema.ActionCascade,
	"n": schema.ActionSetNull,
	"d": schema.ActionSetDefault,
}

// typeNames maps abstract column types to PostgreSQL types, as reported by
// information_schema.columns.data_type.
var typeNames = map[schema.Type]string{
	schema.TypeInteger:   "integer",
	schema.TypeBigInt:    "bigint",
	schema.TypeSmallInt:  "smallint",
	schema.TypeString:    "character varying",
	schema.TypeText:      "text",
	schema.TypeBoolean:   "boolean",
	schema.TypeFloat:     "real",
	schema.TypeDouble:    "double precision",
	schema.TypeDecimal:   "numeric",
	schema.TypeDate:      "date",
	schema.TypeTime:      "time without time zone",
	schema.TypeDateTime:  "timestamp without time zone",
	schema.TypeTimestamp: "timestamp with time zone",
	schema.TypeBinary:    "bytea",
	schema.TypeJSON:      "jsonb",
	schema.TypeUUID:      "uuid",
}

// aliases are other PostgreSQL types with an abstract equivalent.
var aliases = map[string]schema.Type{
	"character":           schema.TypeString,
	"json":                schema.TypeJSON,
	"time with time zone": schema.TypeTime,
}

func mapType(dataType string) schema.Type {
	for typ, name := range typeNames {
		if name == dataType {
			return typ
		}
	}
	if typ, ok := aliases[dataType]; ok {
		return typ
	}
	return schema.TypeText
}

// literalCast matches string literal defaults, which PostgreSQL reports with
// an explicit cast, e.g. 'active'::character varying.
var literalCast = regexp.MustCompile(`^('(?:[^']|'')*')::[a-z ]+$`)

func stripCast(expr string) string {
	if m := literalCast.FindStringSubmatch(strings.TrimSpace(expr)); m != nil {
		return m[1]
	}
	return expr
}
