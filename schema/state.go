// Package schema defines the structural model of relational tables and the
// comparison of two table states.
//
// A State is an immutable snapshot of one table. States are produced either by
// introspecting a live database, or by mutating a Blueprint over a base State.
// Compare reports the structural difference between two States as a Diff.
package schema

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Type is an abstract, backend-independent column type.
type Type string

// Supported abstract column types.
const (
	TypeInteger   Type = "integer"
	TypeBigInt    Type = "bigint"
	TypeSmallInt  Type = "smallint"
	TypeString    Type = "string"
	TypeText      Type = "text"
	TypeBoolean   Type = "boolean"
	TypeFloat     Type = "float"
	TypeDouble    Type = "double"
	TypeDecimal   Type = "decimal"
	TypeDate      Type = "date"
	TypeTime      Type = "time"
	TypeDateTime  Type = "datetime"
	TypeTimestamp Type = "timestamp"
	TypeBinary    Type = "binary"
	TypeJSON      Type = "json"
	TypeUUID      Type = "uuid"
)

// Types returns all supported abstract column types.
func Types() []Type {
	return []Type{
		TypeInteger, TypeBigInt, TypeSmallInt, TypeString, TypeText, TypeBoolean,
		TypeFloat, TypeDouble, TypeDecimal, TypeDate, TypeTime, TypeDateTime,
		TypeTimestamp, TypeBinary, TypeJSON, TypeUUID,
	}
}

// TypeFromString returns a valid Type for the given string, or an error if the
// value is not a supported type.
func TypeFromString(val string) (Type, error) {
	t := Type(strings.ToLower(val))
	if slices.Contains(Types(), t) {
		return t, nil
	}
	return "", fmt.Errorf("unsupported column type '%s'", val)
}

// Action is a referential action of a foreign key.
type Action string

// Referential actions. An empty Action is equivalent to ActionNoAction.
const (
	ActionNoAction   Action = "NO ACTION"
	ActionRestrict   Action = "RESTRICT"
	ActionCascade    Action = "CASCADE"
	ActionSetNull    Action = "SET NULL"
	ActionSetDefault Action = "SET DEFAULT"
)

// Normalize returns the canonical form of the action.
func (a Action) Normalize() Action {
	if a == "" {
		return ActionNoAction
	}
	return Action(strings.ToUpper(string(a)))
}

// Column is a table column.
type Column struct {
	Name     string
	Type     Type
	Nullable bool
	// Default is a raw SQL expression, e.g. 'pending' or CURRENT_TIMESTAMP.
	Default   sql.Null[string]
	Size      int
	Precision int
	Scale     int
}

// Equal reports whether both columns have the same name and attributes.
func (c Column) Equal(other Column) bool {
	return c.Name == other.Name && c.sameAttributes(other)
}

func (c Column) sameAttributes(other Column) bool {
	return c.Type == other.Type &&
		c.Nullable == other.Nullable &&
		c.Default == other.Default &&
		c.Size == other.Size &&
		c.Precision == other.Precision &&
		c.Scale == other.Scale
}

// Index is a table index.
type Index struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique,omitempty"`
}

// Equal reports whether both indexes are structurally identical.
func (i Index) Equal(other Index) bool {
	return i.Name == other.Name && i.Unique == other.Unique &&
		slices.Equal(i.Columns, other.Columns)
}

func (i Index) clone() Index {
	i.Columns = slices.Clone(i.Columns)
	return i
}

// ForeignKey is a foreign key constraint from local columns to columns of a
// referenced table.
type ForeignKey struct {
	Name       string   `yaml:"name"`
	Columns    []string `yaml:"columns"`
	RefTable   string   `yaml:"ref_table"`
	RefColumns []string `yaml:"ref_columns"`
	OnDelete   Action   `yaml:"on_delete,omitempty"`
	OnUpdate   Action   `yaml:"on_update,omitempty"`
}

// Equal reports whether both foreign keys are structurally identical.
func (fk ForeignKey) Equal(other ForeignKey) bool {
	return fk.Name == other.Name &&
		fk.RefTable == other.RefTable &&
		slices.Equal(fk.Columns, other.Columns) &&
		slices.Equal(fk.RefColumns, other.RefColumns) &&
		fk.OnDelete.Normalize() == other.OnDelete.Normalize() &&
		fk.OnUpdate.Normalize() == other.OnUpdate.Normalize()
}

func (fk ForeignKey) clone() ForeignKey {
	fk.Columns = slices.Clone(fk.Columns)
	fk.RefColumns = slices.Clone(fk.RefColumns)
	return fk
}

// IndexName returns the derived name of an index over columns of table.
func IndexName(table string, columns ...string) string {
	return fmt.Sprintf("%s_%s_index", table, strings.Join(columns, "_"))
}

// ForeignKeyName returns the derived name of a foreign key over columns of
// table. Backends that don't retain constraint names (SQLite) report foreign
// keys under this name.
func ForeignKeyName(table string, columns ...string) string {
	return fmt.Sprintf("%s_%s_fk", table, strings.Join(columns, "_"))
}

// State is a structural snapshot of one table.
type State struct {
	Name        string       `yaml:"name"`
	Columns     []Column     `yaml:"columns"`
	Indexes     []Index      `yaml:"indexes,omitempty"`
	PrimaryKey  []string     `yaml:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `yaml:"foreign_keys,omitempty"`
	// Exists is true if the table is present in the target database.
	Exists bool `yaml:"-"`
	// Dropped is true if the table is declared to be dropped.
	Dropped bool `yaml:"-"`
}

// NewState returns the state of a table that doesn't exist yet.
func NewState(name string) State {
	return State{Name: name}
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	c := s
	c.Columns = slices.Clone(s.Columns)
	c.PrimaryKey = slices.Clone(s.PrimaryKey)
	c.Indexes = nil
	for _, idx := range s.Indexes {
		c.Indexes = append(c.Indexes, idx.clone())
	}
	c.ForeignKeys = nil
	for _, fk := range s.ForeignKeys {
		c.ForeignKeys = append(c.ForeignKeys, fk.clone())
	}
	return c
}

// Column returns the column with the given name.
func (s State) Column(name string) (Column, bool) {
	i := s.columnIndex(name)
	if i < 0 {
		return Column{}, false
	}
	return s.Columns[i], true
}

// HasColumn reports whether the table has a column with the given name.
func (s State) HasColumn(name string) bool {
	return s.columnIndex(name) >= 0
}

// Index returns the index with the given name.
func (s State) Index(name string) (Index, bool) {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// ForeignKey returns the foreign key with the given name.
func (s State) ForeignKey(name string) (ForeignKey, bool) {
	for _, fk := range s.ForeignKeys {
		if fk.Name == name {
			return fk, true
		}
	}
	return ForeignKey{}, false
}

// ColumnNames returns the names of all columns in declaration order.
func (s State) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Structure returns a copy of the state without indexes and foreign keys.
func (s State) Structure() State {
	c := s.Clone()
	c.Indexes = nil
	c.ForeignKeys = nil
	return c
}

// References returns the names of the tables referenced by foreign keys of
// this table, excluding self-references, sorted and deduplicated.
func (s State) References() []string {
	var refs []string
	for _, fk := range s.ForeignKeys {
		if fk.RefTable != s.Name && !slices.Contains(refs, fk.RefTable) {
			refs = append(refs, fk.RefTable)
		}
	}
	slices.Sort(refs)
	return refs
}

func (s State) columnIndex(name string) int {
	return slices.IndexFunc(s.Columns, func(c Column) bool { return c.Name == name })
}

// Equal reports whether both states are structurally equal. Columns, indexes
// and foreign keys are compared as sets keyed by name, and the primary key as
// an ordered list.
func (s State) Equal(other State) bool {
	if s.Name != other.Name || len(s.Columns) != len(other.Columns) ||
		len(s.Indexes) != len(other.Indexes) ||
		len(s.ForeignKeys) != len(other.ForeignKeys) ||
		!slices.Equal(s.PrimaryKey, other.PrimaryKey) {
		return false
	}
	for _, c := range s.Columns {
		oc, ok := other.Column(c.Name)
		if !ok || !c.Equal(oc) {
			return false
		}
	}
	for _, idx := range s.Indexes {
		oidx, ok := other.Index(idx.Name)
		if !ok || !idx.Equal(oidx) {
			return false
		}
	}
	for _, fk := range s.ForeignKeys {
		ofk, ok := other.ForeignKey(fk.Name)
		if !ok || !fk.Equal(ofk) {
			return false
		}
	}
	return true
}

// Validate checks the structural invariants of the state.
func (s State) Validate() error {
	if s.Name == "" {
		return errors.New("table name is required")
	}

	var errs []error
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("table '%s' has a column without a name", s.Name))
			continue
		}
		if _, ok := seen[c.Name]; ok {
			errs = append(errs, fmt.Errorf("duplicate column '%s' in table '%s'", c.Name, s.Name))
		}
		seen[c.Name] = struct{}{}
		if c.Type == "" {
			errs = append(errs, fmt.Errorf("column '%s.%s' has no type", s.Name, c.Name))
		}
	}

	for _, pk := range s.PrimaryKey {
		if _, ok := seen[pk]; !ok {
			errs = append(errs, fmt.Errorf("primary key column '%s' doesn't exist in table '%s'", pk, s.Name))
		}
	}

	idxNames := make(map[string]struct{}, len(s.Indexes))
	for _, idx := range s.Indexes {
		if _, ok := idxNames[idx.Name]; ok {
			errs = append(errs, fmt.Errorf("duplicate index '%s' in table '%s'", idx.Name, s.Name))
		}
		idxNames[idx.Name] = struct{}{}
		if len(idx.Columns) == 0 {
			errs = append(errs, fmt.Errorf("index '%s' in table '%s' has no columns", idx.Name, s.Name))
		}
		for _, col := range idx.Columns {
			if _, ok := seen[col]; !ok {
				errs = append(errs, fmt.Errorf("index '%s' references unknown column '%s.%s'", idx.Name, s.Name, col))
			}
		}
	}

	fkNames := make(map[string]struct{}, len(s.ForeignKeys))
	for _, fk := range s.ForeignKeys {
		if _, ok := fkNames[fk.Name]; ok {
			errs = append(errs, fmt.Errorf("duplicate foreign key '%s' in table '%s'", fk.Name, s.Name))
		}
		fkNames[fk.Name] = struct{}{}
		if fk.RefTable == "" {
			errs = append(errs, fmt.Errorf("foreign key '%s' in table '%s' has no referenced table", fk.Name, s.Name))
		}
		if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.RefColumns) {
			errs = append(errs, fmt.Errorf(
				"foreign key '%s' in table '%s' must have the same non-zero number of local and referenced columns",
				fk.Name, s.Name))
		}
		for _, col := range fk.Columns {
			if _, ok := seen[col]; !ok {
				errs = append(errs, fmt.Errorf("foreign key '%s' references unknown column '%s.%s'", fk.Name, s.Name, col))
			}
		}
		if fk.RefTable != s.Name {
			continue
		}
		for _, col := range fk.RefColumns {
			if _, ok := seen[col]; !ok {
				errs = append(errs, fmt.Errorf("foreign key '%s' references unknown column '%s.%s'", fk.Name, s.Name, col))
			}
		}
	}

	return errors.Join(errs...)
}

// renameColumn renames a column together with all references to it within the
// table. It's a no-op if the column doesn't exist.
func (s *State) renameColumn(from, to string) {
	i := s.columnIndex(from)
	if i < 0 {
		return
	}
	s.Columns[i].Name = to
	rename := func(cols []string) {
		for j, c := range cols {
			if c == from {
				cols[j] = to
			}
		}
	}
	rename(s.PrimaryKey)
	for _, idx := range s.Indexes {
		rename(idx.Columns)
	}
	for _, fk := range s.ForeignKeys {
		rename(fk.Columns)
		if fk.RefTable == s.Name {
			rename(fk.RefColumns)
		}
	}
}

// RenameColumn returns a copy of the state with the column renamed, along with
// every index, primary key and foreign key reference to it within the table.
func (s State) RenameColumn(from, to string) State {
	c := s.Clone()
	c.renameColumn(from, to)
	return c
}
