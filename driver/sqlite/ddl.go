package sqlite

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"go.hackfix.me/schemer/schema"
)

func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

func columnDef(col schema.Column) string {
	var sb strings.Builder
	sb.WriteString(quote(col.Name))
	sb.WriteByte(' ')
	sb.WriteString(typeName(col))
	if !col.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if col.Default.Valid {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(col.Default.V)
	}
	return sb.String()
}

func foreignKeyDef(fk schema.ForeignKey) string {
	def := fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		quote(fk.Name), quoteAll(fk.Columns), quote(fk.RefTable), quoteAll(fk.RefColumns))
	if fk.OnDelete != "" {
		def += " ON DELETE " + string(fk.OnDelete.Normalize())
	}
	if fk.OnUpdate != "" {
		def += " ON UPDATE " + string(fk.OnUpdate.Normalize())
	}
	return def
}

// createTableSQL returns the statement creating a table with the columns,
// primary key and foreign keys of st, under the given name.
func createTableSQL(name string, st schema.State) string {
	defs := make([]string, 0, len(st.Columns)+len(st.ForeignKeys)+1)
	for _, col := range st.Columns {
		defs = append(defs, columnDef(col))
	}
	if len(st.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(st.PrimaryKey)))
	}
	for _, fk := range st.ForeignKeys {
		defs = append(defs, foreignKeyDef(fk))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quote(name), strings.Join(defs, ",\n  "))
}

func createIndexSQL(table string, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, quote(idx.Name), quote(table), quoteAll(idx.Columns))
}
