// Package schematest generates random table states and changes for property
// tests.
package schematest

import (
	"database/sql"
	"fmt"
	"math/rand/v2"
	"slices"

	"go.hackfix.me/schemer/schema"
)

// NewRand returns a deterministic random source for the given seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1)) //nolint:gosec // Not used for security.
}

// RandomState returns a random valid state of an existing table without
// foreign keys.
func RandomState(r *rand.Rand, name string) schema.State {
	types := schema.Types()
	s := schema.State{Name: name, Exists: true}

	n := 1 + r.IntN(6)
	for i := range n {
		s.Columns = append(s.Columns, RandomColumn(r, fmt.Sprintf("c%d", i), types))
	}
	if r.IntN(4) > 0 {
		s.PrimaryKey = []string{s.Columns[0].Name}
	}

	for range r.IntN(3) {
		col := s.Columns[r.IntN(len(s.Columns))].Name
		idx := schema.Index{Name: schema.IndexName(name, col), Columns: []string{col}, Unique: r.IntN(2) == 0}
		if _, ok := s.Index(idx.Name); !ok {
			s.Indexes = append(s.Indexes, idx)
		}
	}

	return s
}

// RandomColumn returns a column with random attributes.
func RandomColumn(r *rand.Rand, name string, types []schema.Type) schema.Column {
	col := schema.Column{
		Name:     name,
		Type:     types[r.IntN(len(types))],
		Nullable: r.IntN(2) == 0,
	}
	switch col.Type { //nolint:exhaustive // Only sized types.
	case schema.TypeString:
		col.Size = 16 * (1 + r.IntN(16))
	case schema.TypeDecimal:
		col.Precision, col.Scale = 10, r.IntN(4)
	}
	if r.IntN(3) == 0 {
		col.Default = sql.Null[string]{V: "0", Valid: true}
	}
	return col
}

// RandomChange returns a Blueprint over base with a random, valid sequence of
// changes applied to it. Every change is expressible by a Blueprint, so the
// returned Blueprint never has errors.
func RandomChange(r *rand.Rand, base schema.State) *schema.Blueprint {
	bp := schema.NewBlueprint(base)
	types := schema.Types()

	for i := range 1 + r.IntN(5) {
		cur := bp.After()
		nonPK := slices.DeleteFunc(cur.ColumnNames(), func(c string) bool {
			return slices.Contains(cur.PrimaryKey, c)
		})
		pick := func(cols []string) string { return cols[r.IntN(len(cols))] }

		switch r.IntN(7) {
		case 0:
			col := RandomColumn(r, fmt.Sprintf("n%d", i), types)
			bp.Column(col.Name, col.Type, func(c *schema.Column) { *c = col })
		case 1:
			name := pick(cur.ColumnNames())
			col, _ := cur.Column(name)
			bp.AlterColumn(name, func(c *schema.Column) {
				c.Nullable = !col.Nullable
				c.Default.Valid = !col.Default.Valid
				c.Default.V = "1"
			})
		case 2:
			if len(nonPK) > 0 && len(cur.Columns) > 1 {
				bp.DropColumn(pick(nonPK))
			}
		case 3:
			bp.RenameColumn(pick(cur.ColumnNames()), fmt.Sprintf("r%d", i))
		case 4:
			bp.Index(pick(cur.ColumnNames()))
		case 5:
			if len(cur.Indexes) > 0 {
				bp.DropIndex(cur.Indexes[r.IntN(len(cur.Indexes))].Name)
			}
		case 6:
			if r.IntN(3) == 0 {
				bp.SetPrimaryKey()
			} else {
				bp.SetPrimaryKey(pick(cur.ColumnNames()))
			}
		}
	}

	return bp
}
