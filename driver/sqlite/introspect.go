package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.hackfix.me/schemer/schema"
)

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Introspect returns the current state of a table.
func (d *Driver) Introspect(ctx context.Context, table string) (schema.State, error) {
	return introspect(ctx, d.db, table)
}

func tables(ctx context.Context, q querier) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, Err(query, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed scanning table name: %w", err)
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

func hasTable(ctx context.Context, q querier, table string) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	var n int
	if err := q.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
		return false, Err(query, err)
	}
	return n > 0, nil
}

func introspect(ctx context.Context, q querier, table string) (schema.State, error) {
	ok, err := hasTable(ctx, q, table)
	if err != nil || !ok {
		return schema.NewState(table), err
	}

	st := schema.State{Name: table, Exists: true}
	if err = introspectColumns(ctx, q, &st); err != nil {
		return st, err
	}
	if err = introspectIndexes(ctx, q, &st); err != nil {
		return st, err
	}
	if err = introspectForeignKeys(ctx, q, &st); err != nil {
		return st, err
	}

	return st, nil
}

func introspectColumns(ctx context.Context, q querier, st *schema.State) error {
	query := fmt.Sprintf(`PRAGMA table_info(%s)`, quote(st.Name))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return Err(query, err)
	}
	defer rows.Close()

	type pkCol struct {
		name string
		pos  int
	}
	var pk []pkCol
	for rows.Next() {
		var (
			cid, notNull, pkPos int
			name, declType      string
			dflt                sql.NullString
		)
		if err = rows.Scan(&cid, &name, &declType, &notNull, &dflt, &pkPos); err != nil {
			return fmt.Errorf("failed scanning column of table '%s': %w", st.Name, err)
		}
		col := schema.Column{Name: name, Nullable: notNull == 0}
		parseType(declType, &col)
		if dflt.Valid {
			col.Default = sql.Null[string]{V: dflt.String, Valid: true}
		}
		st.Columns = append(st.Columns, col)
		if pkPos > 0 {
			pk = append(pk, pkCol{name, pkPos})
		}
	}
	if err = rows.Err(); err != nil {
		return Err(query, err)
	}

	slices.SortFunc(pk, func(a, b pkCol) int { return cmp.Compare(a.pos, b.pos) })
	for _, c := range pk {
		st.PrimaryKey = append(st.PrimaryKey, c.name)
	}

	return nil
}

func introspectIndexes(ctx context.Context, q querier, st *schema.State) error {
	query := fmt.Sprintf(`PRAGMA index_list(%s)`, quote(st.Name))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return Err(query, err)
	}

	var indexes []schema.Index
	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)
		if err = rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return fmt.Errorf("failed scanning index of table '%s': %w", st.Name, err)
		}
		// Only indexes created with CREATE INDEX. The others are implied by
		// UNIQUE and PRIMARY KEY constraints.
		if origin != "c" {
			continue
		}
		indexes = append(indexes, schema.Index{Name: name, Unique: unique == 1})
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return Err(query, err)
	}

	for i := range indexes {
		query = fmt.Sprintf(`PRAGMA index_info(%s)`, quote(indexes[i].Name))
		cols, err := indexColumns(ctx, q, query)
		if err != nil {
			return err
		}
		indexes[i].Columns = cols
	}
	slices.SortFunc(indexes, func(a, b schema.Index) int { return cmp.Compare(a.Name, b.Name) })
	st.Indexes = indexes

	return nil
}

func indexColumns(ctx context.Context, q querier, query string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, Err(query, err)
	}
	defer rows.Close()

	type idxCol struct {
		name  string
		seqno int
	}
	var cols []idxCol
	for rows.Next() {
		var (
			seqno, cid int
			name       sql.NullString
		)
		if err = rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("failed scanning index column: %w", err)
		}
		cols = append(cols, idxCol{name.String, seqno})
	}
	if err = rows.Err(); err != nil {
		return nil, Err(query, err)
	}

	slices.SortFunc(cols, func(a, b idxCol) int { return cmp.Compare(a.seqno, b.seqno) })
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}

	return names, nil
}

// introspectForeignKeys reads the foreign keys of the table. PRAGMA
// foreign_key_list doesn't report constraint names, so they're recovered from
// the table definition. Unnamed constraints get their derived names.
func introspectForeignKeys(ctx context.Context, q querier, st *schema.State) error {
	names, err := foreignKeyNames(ctx, q, st.Name)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`PRAGMA foreign_key_list(%s)`, quote(st.Name))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return Err(query, err)
	}

	byID := map[int]*schema.ForeignKey{}
	var ids []int
	for rows.Next() {
		var (
			id, seq                            int
			refTable, from, onUpdate, onDelete string
			to                                 sql.NullString
			match                              string
		)
		if err = rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			rows.Close()
			return fmt.Errorf("failed scanning foreign key of table '%s': %w", st.Name, err)
		}
		fk, ok := byID[id]
		if !ok {
			fk = &schema.ForeignKey{
				RefTable: refTable,
				OnDelete: schema.Action(onDelete).Normalize(),
				OnUpdate: schema.Action(onUpdate).Normalize(),
			}
			byID[id] = fk
			ids = append(ids, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.RefColumns = append(fk.RefColumns, to.String)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return Err(query, err)
	}

	for _, fk := range byID {
		if !slices.Contains(fk.RefColumns, "") {
			continue
		}
		// The foreign key references the primary key of the other table.
		ref := schema.State{Name: fk.RefTable}
		if err = introspectColumns(ctx, q, &ref); err != nil {
			return err
		}
		if len(ref.PrimaryKey) == len(fk.RefColumns) {
			fk.RefColumns = ref.PrimaryKey
		}
	}

	// SQLite lists foreign keys in reverse order of declaration.
	slices.Sort(ids)
	slices.Reverse(ids)
	for _, id := range ids {
		fk := byID[id]
		fk.Name = names[foreignKeyID(fk.RefTable, fk.Columns)]
		if fk.Name == "" {
			fk.Name = schema.ForeignKeyName(st.Name, fk.Columns...)
		}
		st.ForeignKeys = append(st.ForeignKeys, *fk)
	}

	return nil
}

var (
	// foreignKeyRe matches named foreign key constraints in a CREATE TABLE
	// statement, capturing the name, the local columns and the referenced table.
	foreignKeyRe = regexp.MustCompile(`(?i)CONSTRAINT\s+(` + identPattern + `)\s+` +
		`FOREIGN\s+KEY\s*\(([^)]*)\)\s*REFERENCES\s+(` + identPattern + `)`)
	identPattern = `"(?:[^"]|"")+"|` + "`[^`]+`" + `|\[[^\]]+\]|[\w$]+`
)

// foreignKeyNames returns the names of the named foreign key constraints of
// table, keyed by foreignKeyID.
func foreignKeyNames(ctx context.Context, q querier, table string) (map[string]string, error) {
	query := `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`
	var def sql.NullString
	if err := q.QueryRowContext(ctx, query, table).Scan(&def); err != nil {
		return nil, Err(query, err)
	}

	names := map[string]string{}
	for _, m := range foreignKeyRe.FindAllStringSubmatch(def.String, -1) {
		cols := strings.Split(m[2], ",")
		for i, c := range cols {
			cols[i] = unquoteIdent(strings.TrimSpace(c))
		}
		id := foreignKeyID(unquoteIdent(m[3]), cols)
		if _, ok := names[id]; !ok {
			names[id] = unquoteIdent(m[1])
		}
	}

	return names, nil
}

// foreignKeyID identifies a foreign key by its referenced table and local
// columns, which is all PRAGMA foreign_key_list and the table definition have
// in common.
func foreignKeyID(refTable string, cols []string) string {
	return strings.ToLower(refTable + "\x00" + strings.Join(cols, "\x00"))
}

func unquoteIdent(ident string) string {
	if len(ident) < 2 {
		return ident
	}
	switch first, last := ident[0], ident[len(ident)-1]; {
	case first == '"' && last == '"':
		return strings.ReplaceAll(ident[1:len(ident)-1], `""`, `"`)
	case first == '`' && last == '`', first == '[' && last == ']':
		return ident[1 : len(ident)-1]
	}
	return ident
}

// typeNames maps abstract column types to SQLite declared types. SQLite keeps
// the declared type verbatim, so abstract types can be recovered from it.
var typeNames = map[schema.Type]string{
	schema.TypeInteger:   "INTEGER",
	schema.TypeBigInt:    "BIGINT",
	schema.TypeSmallInt:  "SMALLINT",
	schema.TypeString:    "VARCHAR",
	schema.TypeText:      "TEXT",
	schema.TypeBoolean:   "BOOLEAN",
	schema.TypeFloat:     "FLOAT",
	schema.TypeDouble:    "DOUBLE",
	schema.TypeDecimal:   "DECIMAL",
	schema.TypeDate:      "DATE",
	schema.TypeTime:      "TIME",
	schema.TypeDateTime:  "DATETIME",
	schema.TypeTimestamp: "TIMESTAMP",
	schema.TypeBinary:    "BLOB",
	schema.TypeJSON:      "JSON",
	schema.TypeUUID:      "UUID",
}

func typeName(col schema.Column) string {
	name := typeNames[col.Type]
	switch col.Type {
	case schema.TypeString:
		if col.Size > 0 {
			return fmt.Sprintf("%s(%d)", name, col.Size)
		}
	case schema.TypeDecimal:
		if col.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", name, col.Precision, col.Scale)
		}
	}
	return name
}

// parseType sets the type attributes of col from an SQLite declared type.
// Types not created by this driver are mapped by their SQLite type affinity.
func parseType(declType string, col *schema.Column) {
	declType = strings.ToUpper(strings.TrimSpace(declType))
	base, args, _ := strings.Cut(declType, "(")
	base = strings.TrimSpace(base)
	args = strings.TrimSuffix(args, ")")

	for typ, name := range typeNames {
		if name == base {
			col.Type = typ
			break
		}
	}
	if col.Type == "" {
		col.Type = affinity(base)
	}

	if args == "" {
		return
	}
	nums := strings.Split(args, ",")
	n, err := strconv.Atoi(strings.TrimSpace(nums[0]))
	if err != nil {
		return
	}
	switch col.Type {
	case schema.TypeString:
		col.Size = n
	case schema.TypeDecimal:
		col.Precision = n
		if len(nums) > 1 {
			col.Scale, _ = strconv.Atoi(strings.TrimSpace(nums[1]))
		}
	}
}

// affinity follows https://www.sqlite.org/datatype3.html#determination_of_column_affinity
func affinity(declType string) schema.Type {
	switch {
	case strings.Contains(declType, "INT"):
		return schema.TypeInteger
	case strings.Contains(declType, "CHAR"):
		return schema.TypeString
	case strings.Contains(declType, "CLOB"), strings.Contains(declType, "TEXT"):
		return schema.TypeText
	case declType == "" || strings.Contains(declType, "BLOB"):
		return schema.TypeBinary
	case strings.Contains(declType, "REAL"), strings.Contains(declType, "FLOA"),
		strings.Contains(declType, "DOUB"):
		return schema.TypeDouble
	}
	return schema.TypeDecimal
}
