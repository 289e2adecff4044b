// Package operation defines the backend-independent structural operations that
// migrations consist of.
//
// Every Operation carries enough data to be rendered as DDL by a driver, and
// to be logically inverted without consulting the database.
package operation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.hackfix.me/schemer/schema"
)

// Kind is the type of a structural operation.
type Kind string

// All supported operation kinds.
const (
	KindCreateTable    Kind = "create_table"
	KindDropTable      Kind = "drop_table"
	KindAddColumn      Kind = "add_column"
	KindDropColumn     Kind = "drop_column"
	KindAlterColumn    Kind = "alter_column"
	KindRenameColumn   Kind = "rename_column"
	KindAddIndex       Kind = "add_index"
	KindDropIndex      Kind = "drop_index"
	KindAddForeignKey  Kind = "add_foreign_key"
	KindDropForeignKey Kind = "drop_foreign_key"
	KindSetPrimaryKey  Kind = "set_primary_key"
)

// Kinds returns all supported operation kinds.
func Kinds() []Kind {
	return []Kind{
		KindCreateTable, KindDropTable, KindAddColumn, KindDropColumn,
		KindAlterColumn, KindRenameColumn, KindAddIndex, KindDropIndex,
		KindAddForeignKey, KindDropForeignKey, KindSetPrimaryKey,
	}
}

// KindFromString returns a valid Kind for the given string, or an error if the
// value is not a supported operation kind.
func KindFromString(val string) (Kind, error) {
	k := Kind(val)
	if slices.Contains(Kinds(), k) {
		return k, nil
	}
	return "", fmt.Errorf("unsupported operation '%s'", val)
}

// Operation is a single structural change to one table. Only the fields
// relevant to the Kind are set.
type Operation struct {
	Kind  Kind   `yaml:"op"`
	Table string `yaml:"table"`

	// State is the table structure, without indexes and foreign keys, created or
	// dropped by KindCreateTable and KindDropTable.
	State *schema.State `yaml:"state,omitempty"`
	// Column is the column added or dropped, or the target definition of an
	// altered column.
	Column *schema.Column `yaml:"column,omitempty"`
	// From is the original definition of an altered column.
	From       *schema.Column     `yaml:"from,omitempty"`
	Rename     *schema.Rename     `yaml:"rename,omitempty"`
	Index      *schema.Index      `yaml:"index,omitempty"`
	ForeignKey *schema.ForeignKey `yaml:"foreign_key,omitempty"`
	// PrimaryKey is the target primary key of KindSetPrimaryKey, and
	// PreviousPrimaryKey the one it replaces. Either can be empty.
	PrimaryKey         []string `yaml:"primary_key,omitempty"`
	PreviousPrimaryKey []string `yaml:"previous_primary_key,omitempty"`
}

// CreateTable returns an operation that creates the table described by s.
// Indexes and foreign keys of s are ignored.
func CreateTable(s schema.State) Operation {
	st := s.Structure()
	st.Exists, st.Dropped = false, false
	return Operation{Kind: KindCreateTable, Table: s.Name, State: &st}
}

// DropTable returns an operation that drops the table described by s.
func DropTable(s schema.State) Operation {
	op := CreateTable(s)
	op.Kind = KindDropTable
	return op
}

// AddColumn returns an operation that adds a column to table.
func AddColumn(table string, col schema.Column) Operation {
	return Operation{Kind: KindAddColumn, Table: table, Column: &col}
}

// DropColumn returns an operation that drops a column from table.
func DropColumn(table string, col schema.Column) Operation {
	return Operation{Kind: KindDropColumn, Table: table, Column: &col}
}

// AlterColumn returns an operation that changes the definition of a column
// from one to the other. Both must have the same name.
func AlterColumn(table string, from, to schema.Column) Operation {
	return Operation{Kind: KindAlterColumn, Table: table, From: &from, Column: &to}
}

// RenameColumn returns an operation that renames a column of table.
func RenameColumn(table, from, to string) Operation {
	return Operation{Kind: KindRenameColumn, Table: table, Rename: &schema.Rename{From: from, To: to}}
}

// AddIndex returns an operation that creates an index on table.
func AddIndex(table string, idx schema.Index) Operation {
	idx.Columns = slices.Clone(idx.Columns)
	return Operation{Kind: KindAddIndex, Table: table, Index: &idx}
}

// DropIndex returns an operation that drops an index from table.
func DropIndex(table string, idx schema.Index) Operation {
	op := AddIndex(table, idx)
	op.Kind = KindDropIndex
	return op
}

// AddForeignKey returns an operation that creates a foreign key on table.
func AddForeignKey(table string, fk schema.ForeignKey) Operation {
	fk.Columns = slices.Clone(fk.Columns)
	fk.RefColumns = slices.Clone(fk.RefColumns)
	return Operation{Kind: KindAddForeignKey, Table: table, ForeignKey: &fk}
}

// DropForeignKey returns an operation that drops a foreign key from table.
func DropForeignKey(table string, fk schema.ForeignKey) Operation {
	op := AddForeignKey(table, fk)
	op.Kind = KindDropForeignKey
	return op
}

// SetPrimaryKey returns an operation that replaces the primary key of table.
func SetPrimaryKey(table string, from, to []string) Operation {
	return Operation{
		Kind:               KindSetPrimaryKey,
		Table:              table,
		PrimaryKey:         slices.Clone(to),
		PreviousPrimaryKey: slices.Clone(from),
	}
}

// Invert returns the logical inverse of the operation.
func (op Operation) Invert() Operation {
	inv := op
	switch op.Kind {
	case KindCreateTable:
		inv.Kind = KindDropTable
	case KindDropTable:
		inv.Kind = KindCreateTable
	case KindAddColumn:
		inv.Kind = KindDropColumn
	case KindDropColumn:
		inv.Kind = KindAddColumn
	case KindAlterColumn:
		inv.From, inv.Column = op.Column, op.From
	case KindRenameColumn:
		inv.Rename = &schema.Rename{From: op.Rename.To, To: op.Rename.From}
	case KindAddIndex:
		inv.Kind = KindDropIndex
	case KindDropIndex:
		inv.Kind = KindAddIndex
	case KindAddForeignKey:
		inv.Kind = KindDropForeignKey
	case KindDropForeignKey:
		inv.Kind = KindAddForeignKey
	case KindSetPrimaryKey:
		inv.PrimaryKey, inv.PreviousPrimaryKey = op.PreviousPrimaryKey, op.PrimaryKey
	}
	return inv
}

// Validate checks that the operation carries the data required by its kind.
func (op Operation) Validate() error {
	if _, err := KindFromString(string(op.Kind)); err != nil {
		return err
	}
	if op.Table == "" {
		return fmt.Errorf("%s: table name is required", op.Kind)
	}

	var missing string
	switch op.Kind {
	case KindCreateTable, KindDropTable:
		if op.State == nil {
			missing = "state"
		} else if op.State.Name != op.Table {
			return fmt.Errorf("%s: state of table '%s' doesn't match table '%s'", op.Kind, op.State.Name, op.Table)
		}
	case KindAddColumn, KindDropColumn:
		if op.Column == nil {
			missing = "column"
		}
	case KindAlterColumn:
		switch {
		case op.From == nil:
			missing = "from"
		case op.Column == nil:
			missing = "column"
		case op.From.Name != op.Column.Name:
			return fmt.Errorf("%s: cannot change the name of column '%s.%s'", op.Kind, op.Table, op.From.Name)
		}
	case KindRenameColumn:
		if op.Rename == nil || op.Rename.From == "" || op.Rename.To == "" {
			missing = "rename"
		}
	case KindAddIndex, KindDropIndex:
		if op.Index == nil || op.Index.Name == "" {
			missing = "index"
		}
	case KindAddForeignKey, KindDropForeignKey:
		if op.ForeignKey == nil || op.ForeignKey.Name == "" {
			missing = "foreign_key"
		}
	case KindSetPrimaryKey:
	}
	if missing != "" {
		return fmt.Errorf("%s on table '%s': '%s' is required", op.Kind, op.Table, missing)
	}

	return nil
}

// String returns a short human-readable description of the operation.
func (op Operation) String() string {
	switch op.Kind {
	case KindCreateTable:
		return fmt.Sprintf("create table %s", op.Table)
	case KindDropTable:
		return fmt.Sprintf("drop table %s", op.Table)
	case KindAddColumn, KindDropColumn, KindAlterColumn:
		if op.Column == nil {
			break
		}
		verb, _, _ := strings.Cut(string(op.Kind), "_")
		return fmt.Sprintf("%s column %s.%s", verb, op.Table, op.Column.Name)
	case KindRenameColumn:
		if op.Rename == nil {
			break
		}
		return fmt.Sprintf("rename column %s.%s to %s", op.Table, op.Rename.From, op.Rename.To)
	case KindAddIndex, KindDropIndex:
		if op.Index == nil {
			break
		}
		verb, _, _ := strings.Cut(string(op.Kind), "_")
		return fmt.Sprintf("%s index %s on %s(%s)", verb, op.Index.Name, op.Table, strings.Join(op.Index.Columns, ", "))
	case KindAddForeignKey, KindDropForeignKey:
		if op.ForeignKey == nil {
			break
		}
		verb, _, _ := strings.Cut(string(op.Kind), "_")
		fk := op.ForeignKey
		return fmt.Sprintf("%s foreign key %s on %s(%s) -> %s(%s)", verb, fk.Name, op.Table,
			strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", "))
	case KindSetPrimaryKey:
		return fmt.Sprintf("set primary key of %s to (%s)", op.Table, strings.Join(op.PrimaryKey, ", "))
	}
	return fmt.Sprintf("%s %s", op.Kind, op.Table)
}

// Invert returns the inverses of ops in reverse order.
func Invert(ops []Operation) []Operation {
	inv := make([]Operation, len(ops))
	for i, op := range ops {
		inv[len(ops)-1-i] = op.Invert()
	}
	return inv
}

// ValidateAll validates every operation in ops.
func ValidateAll(ops []Operation) error {
	var errs []error
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("operation %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
