package schema

import "slices"

// CompareOption modifies the behavior of Compare.
type CompareOption func(*compareOptions)

type compareOptions struct {
	renames []Rename
}

// WithRename hints that column from in the before state was renamed to column
// to in the after state. Without a hint a renamed column is reported as an
// independent drop and add.
func WithRename(from, to string) CompareOption {
	return func(o *compareOptions) {
		o.renames = append(o.renames, Rename{From: from, To: to})
	}
}

// WithRenames applies multiple rename hints.
func WithRenames(renames ...Rename) CompareOption {
	return func(o *compareOptions) {
		o.renames = append(o.renames, renames...)
	}
}

// Compare returns the structural difference between the before and after
// states of a table. It never mutates its inputs, and always succeeds.
func Compare(before, after State, opts ...CompareOption) Diff {
	o := &compareOptions{}
	for _, opt := range opts {
		opt(o)
	}

	d := Diff{
		Table:   after.Name,
		Created: !before.Exists && !after.Dropped,
		Dropped: after.Dropped && before.Exists,
		Before:  before.Clone(),
		After:   after.Clone(),
	}
	if d.Table == "" {
		d.Table = before.Name
	}

	base := before.Clone()
	target := after
	if after.Dropped {
		// Everything in the table goes away.
		target = State{Name: after.Name}
	}

	if !after.Dropped {
		for _, r := range o.renames {
			if r.From == r.To || !base.HasColumn(r.From) || base.HasColumn(r.To) || !target.HasColumn(r.To) {
				continue
			}
			base.renameColumn(r.From, r.To)
			d.RenamedColumns = append(d.RenamedColumns, r)
		}
	}

	compareColumns(&d, base, target)
	compareIndexes(&d, base, target)
	compareForeignKeys(&d, base, target)
	d.PrimaryKeyChanged = !slices.Equal(base.PrimaryKey, target.PrimaryKey)

	return d
}

func compareColumns(d *Diff, before, after State) {
	for _, c := range after.Columns {
		bc, ok := before.Column(c.Name)
		if !ok {
			d.AddedColumns = append(d.AddedColumns, c)
			continue
		}
		if !bc.sameAttributes(c) {
			d.AlteredColumns = append(d.AlteredColumns, ColumnPair{Before: bc, After: c})
		}
	}
	for _, c := range before.Columns {
		if !after.HasColumn(c.Name) {
			d.DroppedColumns = append(d.DroppedColumns, c)
		}
	}
}

func compareIndexes(d *Diff, before, after State) {
	for _, idx := range after.Indexes {
		bidx, ok := before.Index(idx.Name)
		if !ok || !bidx.Equal(idx) {
			d.AddedIndexes = append(d.AddedIndexes, idx.clone())
		}
	}
	for _, idx := range before.Indexes {
		aidx, ok := after.Index(idx.Name)
		if !ok || !aidx.Equal(idx) {
			d.DroppedIndexes = append(d.DroppedIndexes, idx.clone())
		}
	}
}

func compareForeignKeys(d *Diff, before, after State) {
	for _, fk := range after.ForeignKeys {
		bfk, ok := before.ForeignKey(fk.Name)
		if !ok || !bfk.Equal(fk) {
			d.AddedForeignKeys = append(d.AddedForeignKeys, fk.clone())
		}
	}
	for _, fk := range before.ForeignKeys {
		afk, ok := after.ForeignKey(fk.Name)
		if !ok || !afk.Equal(fk) {
			d.DroppedForeignKeys = append(d.DroppedForeignKeys, fk.clone())
		}
	}
}
