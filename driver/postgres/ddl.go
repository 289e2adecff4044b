package postgres

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

func typeName(col schema.Column) string {
	switch col.Type {
	case schema.TypeString:
		if col.Size > 0 {
			return fmt.Sprintf("varchar(%d)", col.Size)
		}
		return "varchar"
	case schema.TypeDecimal:
		if col.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", col.Precision, col.Scale)
		}
	}
	return typeNames[col.Type]
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

func createTableSQL(st schema.State) string {
	defs := make([]string, 0, len(st.Columns)+1)
	for _, col := range st.Columns {
		defs = append(defs, columnDef(col))
	}
	if len(st.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(st.PrimaryKey)))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quote(st.Name), strings.Join(defs, ",\n  "))
}

// alterColumnSQL returns the statement changing a column from one definition
// to the other, or an empty string if they're the same.
func alterColumnSQL(table string, from, to schema.Column) string {
	var clauses []string
	col := quote(to.Name)
	if from.Type != to.Type || from.Size != to.Size ||
		from.Precision != to.Precision || from.Scale != to.Scale {
		typ := typeName(to)
		clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s TYPE %s USING %s::%s", col, typ, col, typ))
	}
	if from.Nullable != to.Nullable {
		if to.Nullable {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP NOT NULL", col))
		} else {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET NOT NULL", col))
		}
	}
	if from.Default != to.Default {
		if to.Default.Valid {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s SET DEFAULT %s", col, to.Default.V))
		} else {
			clauses = append(clauses, fmt.Sprintf("ALTER COLUMN %s DROP DEFAULT", col))
		}
	}
	if len(clauses) == 0 {
		return ""
	}
	return fmt.Sprintf("ALTER TABLE %s %s", quote(table), strings.Join(clauses, ", "))
}

func addForeignKeySQL(table string, fk schema.ForeignKey) string {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		quote(table), quote(fk.Name), quoteAll(fk.Columns), quote(fk.RefTable), quoteAll(fk.RefColumns))
	if fk.OnDelete != "" {
		stmt += " ON DELETE " + string(fk.OnDelete.Normalize())
	}
	if fk.OnUpdate != "" {
		stmt += " ON UPDATE " + string(fk.OnUpdate.Normalize())
	}
	return stmt
}

func createIndexSQL(table string, idx schema.Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, quote(idx.Name), quote(table), quoteAll(idx.Columns))
}
