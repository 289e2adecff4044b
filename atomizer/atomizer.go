// Package atomizer converts a set of per-table diffs into ordered sequences of
// structural operations, which apply the changes forward (declare) or undo
// them (revert).
//
// The forward sequence is built in global phases:
//
//  1. foreign key drops
//  2. index drops
//  3. column renames
//  4. table creations, referenced tables first
//  5. column additions, alterations, primary key changes and column drops
//  6. index additions
//  7. foreign key additions, referenced tables first
//  8. table drops, referencing tables first
//
// The revert sequence is the forward sequence in reverse order, with every
// operation replaced by its inverse.
package atomizer

import (
	"fmt"
	"slices"

	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/schema"
)

// Atomizer accumulates table diffs. It's not safe for concurrent use.
type Atomizer struct {
	diffs []schema.Diff
}

// New returns a new empty Atomizer.
func New() *Atomizer {
	return &Atomizer{}
}

// Add adds the diff of a table. It returns a StructuralConflictError if a diff
// for the same table was already added.
func (a *Atomizer) Add(d schema.Diff) error {
	if slices.ContainsFunc(a.diffs, func(o schema.Diff) bool { return o.Table == d.Table }) {
		return &StructuralConflictError{Table: d.Table, Reason: "table has more than one diff"}
	}
	a.diffs = append(a.diffs, d)
	return nil
}

// AddBlueprint adds the diff declared by a Blueprint.
func (a *Atomizer) AddBlueprint(bp *schema.Blueprint) error {
	d, err := bp.Diff()
	if err != nil {
		return &StructuralConflictError{Table: bp.Name(), Reason: "invalid declaration", Err: err}
	}
	return a.Add(d)
}

// Tables returns the names of the tables with changes, in insertion order.
func (a *Atomizer) Tables() []string {
	var tables []string
	for _, d := range a.diffs {
		if d.HasChanges() {
			tables = append(tables, d.Table)
		}
	}
	return tables
}

// Empty reports whether none of the added diffs contain changes.
func (a *Atomizer) Empty() bool {
	return len(a.Tables()) == 0
}

// Declare returns the ordered operations that apply all added diffs.
func (a *Atomizer) Declare() ([]operation.Operation, error) {
	if err := checkConflicts(a.diffs); err != nil {
		return nil, err
	}
	diffs := a.changed()

	// Tables are visited referenced first in all phases, so the output is
	// deterministic and satisfies the dependency order of creations and foreign
	// key additions.
	diffs = sortByReferences(diffs)

	var ops []operation.Operation

	for _, d := range diffs {
		for _, fk := range d.DroppedForeignKeys {
			// Use the definition before any column renames.
			if orig, ok := d.Before.ForeignKey(fk.Name); ok {
				fk = orig
			}
			ops = append(ops, operation.DropForeignKey(d.Table, fk))
		}
	}

	for _, d := range diffs {
		for _, idx := range d.DroppedIndexes {
			if orig, ok := d.Before.Index(idx.Name); ok {
				idx = orig
			}
			ops = append(ops, operation.DropIndex(d.Table, idx))
		}
	}

	for _, d := range diffs {
		for _, r := range d.RenamedColumns {
			ops = append(ops, operation.RenameColumn(d.Table, r.From, r.To))
		}
	}

	for _, d := range diffs {
		if d.Created {
			ops = append(ops, operation.CreateTable(d.After))
		}
	}

	for _, d := range diffs {
		if d.Created || d.Dropped {
			continue
		}
		for _, col := range d.AddedColumns {
			ops = append(ops, operation.AddColumn(d.Table, col))
		}
		for _, pair := range d.AlteredColumns {
			ops = append(ops, operation.AlterColumn(d.Table, pair.Before, pair.After))
		}
		if d.PrimaryKeyChanged {
			ops = append(ops, operation.SetPrimaryKey(d.Table, renamedBase(d).PrimaryKey, d.After.PrimaryKey))
		}
		for _, col := range d.DroppedColumns {
			ops = append(ops, operation.DropColumn(d.Table, col))
		}
	}

	for _, d := range diffs {
		for _, idx := range d.AddedIndexes {
			ops = append(ops, operation.AddIndex(d.Table, idx))
		}
	}

	for _, d := range diffs {
		for _, fk := range d.AddedForeignKeys {
			ops = append(ops, operation.AddForeignKey(d.Table, fk))
		}
	}

	for _, d := range slices.Backward(diffs) {
		if d.Dropped {
			ops = append(ops, operation.DropTable(d.Before))
		}
	}

	return ops, nil
}

// Revert returns the ordered operations that undo the operations returned by
// Declare.
func (a *Atomizer) Revert() ([]operation.Operation, error) {
	ops, err := a.Declare()
	if err != nil {
		return nil, err
	}
	return operation.Invert(ops), nil
}

func (a *Atomizer) changed() []schema.Diff {
	var diffs []schema.Diff
	for _, d := range a.diffs {
		if d.HasChanges() {
			diffs = append(diffs, d)
		}
	}
	return diffs
}

// renamedBase returns the before state of the diff with its column renames
// applied.
func renamedBase(d schema.Diff) schema.State {
	base := d.Before
	for _, r := range d.RenamedColumns {
		base = base.RenameColumn(r.From, r.To)
	}
	return base
}

func checkConflicts(diffs []schema.Diff) error {
	byTable := make(map[string]schema.Diff, len(diffs))
	for _, d := range diffs {
		byTable[d.Table] = d
	}

	for _, d := range diffs {
		if d.Dropped || (!d.Created && !d.Before.Exists && !d.HasChanges()) {
			continue
		}
		if err := d.After.Validate(); err != nil {
			return &StructuralConflictError{Table: d.Table, Reason: "invalid table state", Err: err}
		}

		for _, fk := range d.After.ForeignKeys {
			if fk.RefTable == d.Table {
				continue
			}
			ref, ok := byTable[fk.RefTable]
			if !ok {
				continue
			}
			if ref.Dropped {
				return &StructuralConflictError{
					Table: d.Table,
					Reason: fmt.Sprintf("foreign key '%s' references table '%s', which is dropped",
						fk.Name, fk.RefTable),
				}
			}

			added := slices.ContainsFunc(d.AddedForeignKeys, func(a schema.ForeignKey) bool { return a.Name == fk.Name })
			for _, col := range fk.RefColumns {
				if ref.After.HasColumn(col) {
					continue
				}
				// Renames of referenced columns carry over to existing foreign keys.
				renamed := slices.ContainsFunc(ref.RenamedColumns, func(r schema.Rename) bool { return r.From == col })
				if !added && renamed {
					continue
				}
				return &StructuralConflictError{
					Table: d.Table,
					Reason: fmt.Sprintf("foreign key '%s' references column '%s.%s', which doesn't exist after the change",
						fk.Name, fk.RefTable, col),
				}
			}
		}
	}

	return nil
}
