package schema

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
)

// Blueprint accumulates intended structural changes against a base State. The
// base state is never modified; the delta is exposed as a pair of States and
// as a Diff.
type Blueprint struct {
	base    State
	state   State
	renames []Rename
	errs    []error
}

// NewBlueprint returns a new Blueprint over a copy of base.
func NewBlueprint(base State) *Blueprint {
	return &Blueprint{base: base.Clone(), state: base.Clone()}
}

// CreateTable returns a Blueprint for a table that doesn't exist yet.
func CreateTable(name string) *Blueprint {
	return NewBlueprint(NewState(name))
}

// ColumnOption configures a column declared with Blueprint.Column.
type ColumnOption func(*Column)

// Nullable allows NULL values in the column.
func Nullable() ColumnOption {
	return func(c *Column) { c.Nullable = true }
}

// NotNull disallows NULL values in the column.
func NotNull() ColumnOption {
	return func(c *Column) { c.Nullable = false }
}

// Default sets the default value expression of the column.
func Default(expr string) ColumnOption {
	return func(c *Column) { c.Default = sql.Null[string]{V: expr, Valid: true} }
}

// NoDefault removes the default value of the column.
func NoDefault() ColumnOption {
	return func(c *Column) { c.Default = sql.Null[string]{} }
}

// Size sets the size of the column, e.g. the length of a string column.
func Size(n int) ColumnOption {
	return func(c *Column) { c.Size = n }
}

// Precision sets the precision and scale of a decimal column.
func Precision(precision, scale int) ColumnOption {
	return func(c *Column) {
		c.Precision = precision
		c.Scale = scale
	}
}

// Name returns the table name.
func (b *Blueprint) Name() string {
	return b.state.Name
}

// Column declares a column. If the column already exists it's altered: its
// type is replaced and the options are applied on top of its current
// attributes.
func (b *Blueprint) Column(name string, typ Type, opts ...ColumnOption) *Blueprint {
	if name == "" {
		b.errs = append(b.errs, fmt.Errorf("table '%s': column name is required", b.state.Name))
		return b
	}
	if !slices.Contains(Types(), typ) {
		b.errs = append(b.errs, fmt.Errorf("table '%s': column '%s': unsupported type '%s'", b.state.Name, name, typ))
		return b
	}

	i := b.state.columnIndex(name)
	col := Column{Name: name}
	if i >= 0 {
		col = b.state.Columns[i]
		if col.Type != typ {
			col.Size, col.Precision, col.Scale = 0, 0, 0
		}
	}
	col.Type = typ
	for _, opt := range opts {
		opt(&col)
	}

	if i >= 0 {
		b.state.Columns[i] = col
	} else {
		b.state.Columns = append(b.state.Columns, col)
	}

	return b
}

// AlterColumn applies options to an existing column.
func (b *Blueprint) AlterColumn(name string, opts ...ColumnOption) *Blueprint {
	i := b.state.columnIndex(name)
	if i < 0 {
		b.errs = append(b.errs, fmt.Errorf("cannot alter unknown column '%s.%s'", b.state.Name, name))
		return b
	}
	for _, opt := range opts {
		opt(&b.state.Columns[i])
	}
	return b
}

// DropColumn removes a column, along with the indexes and foreign keys that
// include or reference it. Primary key columns can't be dropped without changing the primary
// key first.
func (b *Blueprint) DropColumn(name string) *Blueprint {
	i := b.state.columnIndex(name)
	if i < 0 {
		b.errs = append(b.errs, fmt.Errorf("cannot drop unknown column '%s.%s'", b.state.Name, name))
		return b
	}
	if slices.Contains(b.state.PrimaryKey, name) {
		b.errs = append(b.errs, fmt.Errorf("cannot drop primary key column '%s.%s'", b.state.Name, name))
		return b
	}

	b.state.Columns = slices.Delete(b.state.Columns, i, i+1)
	b.state.Indexes = slices.DeleteFunc(b.state.Indexes, func(idx Index) bool {
		return slices.Contains(idx.Columns, name)
	})
	b.state.ForeignKeys = slices.DeleteFunc(b.state.ForeignKeys, func(fk ForeignKey) bool {
		return slices.Contains(fk.Columns, name) ||
			(fk.RefTable == b.state.Name && slices.Contains(fk.RefColumns, name))
	})

	return b
}

// RenameColumn renames a column and records an explicit rename hint, so that
// the change is reported as a rename instead of a drop and add.
func (b *Blueprint) RenameColumn(from, to string) *Blueprint {
	switch {
	case !b.state.HasColumn(from):
		b.errs = append(b.errs, fmt.Errorf("cannot rename unknown column '%s.%s'", b.state.Name, from))
		return b
	case b.state.HasColumn(to):
		b.errs = append(b.errs, fmt.Errorf("cannot rename column '%s.%s': column '%s' already exists",
			b.state.Name, from, to))
		return b
	}

	b.state.renameColumn(from, to)

	// Chain renames of the same column, so the hint always refers to the base.
	for i, r := range b.renames {
		if r.To == from {
			b.renames[i].To = to
			return b
		}
	}
	b.renames = append(b.renames, Rename{From: from, To: to})

	return b
}

// Index declares a non-unique index with a derived name over columns.
func (b *Blueprint) Index(columns ...string) *Blueprint {
	return b.AddIndex(Index{Columns: columns})
}

// UniqueIndex declares a unique index with a derived name over columns.
func (b *Blueprint) UniqueIndex(columns ...string) *Blueprint {
	return b.AddIndex(Index{Columns: columns, Unique: true})
}

// AddIndex declares an index. If the index name is empty, it's derived from
// the table name and columns. An existing index with the same name is replaced.
func (b *Blueprint) AddIndex(idx Index) *Blueprint {
	idx = idx.clone()
	if idx.Name == "" {
		idx.Name = IndexName(b.state.Name, idx.Columns...)
	}
	for _, col := range idx.Columns {
		if !b.state.HasColumn(col) {
			b.errs = append(b.errs, fmt.Errorf("index '%s' references unknown column '%s.%s'",
				idx.Name, b.state.Name, col))
			return b
		}
	}

	b.state.Indexes = slices.DeleteFunc(b.state.Indexes, func(i Index) bool { return i.Name == idx.Name })
	b.state.Indexes = append(b.state.Indexes, idx)

	return b
}

// DropIndex removes an index by name.
func (b *Blueprint) DropIndex(name string) *Blueprint {
	if _, ok := b.state.Index(name); !ok {
		b.errs = append(b.errs, fmt.Errorf("cannot drop unknown index '%s' on table '%s'", name, b.state.Name))
		return b
	}
	b.state.Indexes = slices.DeleteFunc(b.state.Indexes, func(i Index) bool { return i.Name == name })
	return b
}

// ForeignKey declares a foreign key. If the foreign key name is empty, it's
// derived from the table name and local columns. An existing foreign key with
// the same name is replaced.
func (b *Blueprint) ForeignKey(fk ForeignKey) *Blueprint {
	fk = fk.clone()
	if fk.Name == "" {
		fk.Name = ForeignKeyName(b.state.Name, fk.Columns...)
	}
	for _, col := range fk.Columns {
		if !b.state.HasColumn(col) {
			b.errs = append(b.errs, fmt.Errorf("foreign key '%s' references unknown column '%s.%s'",
				fk.Name, b.state.Name, col))
			return b
		}
	}

	b.state.ForeignKeys = slices.DeleteFunc(b.state.ForeignKeys, func(f ForeignKey) bool { return f.Name == fk.Name })
	b.state.ForeignKeys = append(b.state.ForeignKeys, fk)

	return b
}

// References is a shorthand for declaring a single-column foreign key.
func (b *Blueprint) References(column, refTable, refColumn string, onDelete, onUpdate Action) *Blueprint {
	return b.ForeignKey(ForeignKey{
		Columns:    []string{column},
		RefTable:   refTable,
		RefColumns: []string{refColumn},
		OnDelete:   onDelete,
		OnUpdate:   onUpdate,
	})
}

// DropForeignKey removes a foreign key by name.
func (b *Blueprint) DropForeignKey(name string) *Blueprint {
	if _, ok := b.state.ForeignKey(name); !ok {
		b.errs = append(b.errs, fmt.Errorf("cannot drop unknown foreign key '%s' on table '%s'", name, b.state.Name))
		return b
	}
	b.state.ForeignKeys = slices.DeleteFunc(b.state.ForeignKeys, func(f ForeignKey) bool { return f.Name == name })
	return b
}

// SetPrimaryKey replaces the primary key. Passing no columns removes it.
func (b *Blueprint) SetPrimaryKey(columns ...string) *Blueprint {
	for _, col := range columns {
		if !b.state.HasColumn(col) {
			b.errs = append(b.errs, fmt.Errorf("primary key references unknown column '%s.%s'", b.state.Name, col))
			return b
		}
	}
	b.state.PrimaryKey = slices.Clone(columns)
	return b
}

// Drop declares the table as dropped.
func (b *Blueprint) Drop() *Blueprint {
	b.state.Dropped = true
	return b
}

// Before returns a copy of the base state.
func (b *Blueprint) Before() State {
	return b.base.Clone()
}

// After returns a copy of the state with all declared changes applied.
func (b *Blueprint) After() State {
	s := b.state.Clone()
	s.Exists = !s.Dropped
	return s
}

// Renames returns the recorded rename hints.
func (b *Blueprint) Renames() []Rename {
	return slices.Clone(b.renames)
}

// Err returns all errors accumulated while declaring changes.
func (b *Blueprint) Err() error {
	return errors.Join(b.errs...)
}

// Diff compares the base state with the declared state, using the recorded
// rename hints. It returns an error if any declaration failed, or if the
// declared state violates the table invariants.
func (b *Blueprint) Diff() (Diff, error) {
	if err := b.Err(); err != nil {
		return Diff{}, err
	}
	after := b.After()
	if !after.Dropped {
		if err := after.Validate(); err != nil {
			return Diff{}, err
		}
	}
	return Compare(b.Before(), after, WithRenames(b.renames...)), nil
}
