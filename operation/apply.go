package operation

import (
	"fmt"
	"slices"

	"go.hackfix.me/schemer/schema"
)

// Apply applies op to the set of table states, keyed by table name. It
// returns an error and leaves states unchanged if op is invalid against them.
//
// Apply is stricter than most database backends: columns can't be dropped
// while an index, the primary key or a foreign key still depends on them, and
// tables can't be dropped while they're referenced by another table.
func Apply(states map[string]schema.State, op Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	if op.Kind == KindCreateTable {
		if _, ok := states[op.Table]; ok {
			return fmt.Errorf("cannot create table '%s': table already exists", op.Table)
		}
		s := op.State.Clone()
		s.Exists, s.Dropped = true, false
		if err := s.Validate(); err != nil {
			return fmt.Errorf("cannot create table '%s': %w", op.Table, err)
		}
		states[op.Table] = s
		return nil
	}

	s, ok := states[op.Table]
	if !ok {
		return fmt.Errorf("cannot %s: table '%s' doesn't exist", op, op.Table)
	}
	s = s.Clone()
	related := map[string]schema.State{}

	switch op.Kind { //nolint:exhaustive // KindCreateTable is handled above.
	case KindDropTable:
		for name, other := range states {
			if name == op.Table {
				continue
			}
			for _, fk := range other.ForeignKeys {
				if fk.RefTable == op.Table {
					return fmt.Errorf("cannot drop table '%s': referenced by foreign key '%s' of table '%s'",
						op.Table, fk.Name, name)
				}
			}
		}
		delete(states, op.Table)
		return nil
	case KindAddColumn:
		if s.HasColumn(op.Column.Name) {
			return fmt.Errorf("cannot add column '%s.%s': column already exists", op.Table, op.Column.Name)
		}
		s.Columns = append(s.Columns, *op.Column)
	case KindDropColumn:
		if err := dropColumn(states, &s, op.Column.Name); err != nil {
			return err
		}
	case KindAlterColumn:
		i := slices.IndexFunc(s.Columns, func(c schema.Column) bool { return c.Name == op.Column.Name })
		if i < 0 {
			return fmt.Errorf("cannot alter column '%s.%s': column doesn't exist", op.Table, op.Column.Name)
		}
		s.Columns[i] = *op.Column
	case KindRenameColumn:
		if err := renameColumn(states, related, &s, op.Rename.From, op.Rename.To); err != nil {
			return err
		}
	case KindAddIndex:
		if _, exists := s.Index(op.Index.Name); exists {
			return fmt.Errorf("cannot add index '%s': index already exists on table '%s'", op.Index.Name, op.Table)
		}
		s.Indexes = append(s.Indexes, *op.Index)
	case KindDropIndex:
		if _, exists := s.Index(op.Index.Name); !exists {
			return fmt.Errorf("cannot drop index '%s': index doesn't exist on table '%s'", op.Index.Name, op.Table)
		}
		s.Indexes = slices.DeleteFunc(s.Indexes, func(i schema.Index) bool { return i.Name == op.Index.Name })
	case KindAddForeignKey:
		if err := checkReference(states, s, *op.ForeignKey); err != nil {
			return err
		}
		if _, exists := s.ForeignKey(op.ForeignKey.Name); exists {
			return fmt.Errorf("cannot add foreign key '%s': foreign key already exists on table '%s'",
				op.ForeignKey.Name, op.Table)
		}
		s.ForeignKeys = append(s.ForeignKeys, *op.ForeignKey)
	case KindDropForeignKey:
		if _, exists := s.ForeignKey(op.ForeignKey.Name); !exists {
			return fmt.Errorf("cannot drop foreign key '%s': foreign key doesn't exist on table '%s'",
				op.ForeignKey.Name, op.Table)
		}
		s.ForeignKeys = slices.DeleteFunc(s.ForeignKeys, func(fk schema.ForeignKey) bool {
			return fk.Name == op.ForeignKey.Name
		})
	case KindSetPrimaryKey:
		s.PrimaryKey = slices.Clone(op.PrimaryKey)
	}

	if err := s.Validate(); err != nil {
		return fmt.Errorf("cannot %s: %w", op, err)
	}
	states[op.Table] = s
	for name, other := range related {
		states[name] = other
	}

	return nil
}

// ApplyAll applies ops in order to states. It stops at the first failing
// operation and returns its index along with the error. States modified by
// preceding operations are kept.
func ApplyAll(states map[string]schema.State, ops []Operation) (int, error) {
	for i, op := range ops {
		if err := Apply(states, op); err != nil {
			return i, err
		}
	}
	return -1, nil
}

func dropColumn(states map[string]schema.State, s *schema.State, name string) error {
	i := slices.IndexFunc(s.Columns, func(c schema.Column) bool { return c.Name == name })
	if i < 0 {
		return fmt.Errorf("cannot drop column '%s.%s': column doesn't exist", s.Name, name)
	}
	if slices.Contains(s.PrimaryKey, name) {
		return fmt.Errorf("cannot drop column '%s.%s': column is part of the primary key", s.Name, name)
	}
	for _, idx := range s.Indexes {
		if slices.Contains(idx.Columns, name) {
			return fmt.Errorf("cannot drop column '%s.%s': column is used by index '%s'", s.Name, name, idx.Name)
		}
	}
	for tname, other := range states {
		if tname == s.Name {
			other = *s
		}
		for _, fk := range other.ForeignKeys {
			if (tname == s.Name && slices.Contains(fk.Columns, name)) ||
				(fk.RefTable == s.Name && slices.Contains(fk.RefColumns, name)) {
				return fmt.Errorf("cannot drop column '%s.%s': column is used by foreign key '%s' of table '%s'",
					s.Name, name, fk.Name, tname)
			}
		}
	}
	s.Columns = slices.Delete(s.Columns, i, i+1)
	return nil
}

// renameColumn renames a column of s, and stores the tables whose foreign keys
// reference the column in related.
func renameColumn(states, related map[string]schema.State, s *schema.State, from, to string) error {
	switch {
	case !s.HasColumn(from):
		return fmt.Errorf("cannot rename column '%s.%s': column doesn't exist", s.Name, from)
	case s.HasColumn(to):
		return fmt.Errorf("cannot rename column '%s.%s': column '%s' already exists", s.Name, from, to)
	}
	*s = s.RenameColumn(from, to)

	// Update references to the column from other tables.
	for tname, other := range states {
		if tname == s.Name {
			continue
		}
		changed := false
		other = other.Clone()
		for _, fk := range other.ForeignKeys {
			if fk.RefTable != s.Name {
				continue
			}
			for j, c := range fk.RefColumns {
				if c == from {
					fk.RefColumns[j] = to
					changed = true
				}
			}
		}
		if changed {
			related[tname] = other
		}
	}

	return nil
}

func checkReference(states map[string]schema.State, s schema.State, fk schema.ForeignKey) error {
	ref, ok := states[fk.RefTable]
	if fk.RefTable == s.Name {
		ref, ok = s, true
	}
	if !ok {
		return fmt.Errorf("cannot add foreign key '%s' on table '%s': referenced table '%s' doesn't exist",
			fk.Name, s.Name, fk.RefTable)
	}
	for _, col := range fk.RefColumns {
		if !ref.HasColumn(col) {
			return fmt.Errorf("cannot add foreign key '%s' on table '%s': referenced column '%s.%s' doesn't exist",
				fk.Name, s.Name, fk.RefTable, col)
		}
	}
	return nil
}
