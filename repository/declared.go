package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"

	"go.hackfix.me/schemer/schema"
)

// Declared is a declared schema: the desired structure of a set of tables,
// and tables to drop. Tables that aren't mentioned are left unchanged.
type Declared struct {
	Tables []DeclaredTable `yaml:"tables"`
	Drop   []string        `yaml:"drop,omitempty"`
}

// DeclaredTable is the desired structure of a table. Renames are applied to
// the current structure before comparing it with the declared one.
type DeclaredTable struct {
	schema.State `yaml:",inline"`
	Renames      []schema.Rename `yaml:"renames,omitempty"`
}

// Introspector returns the current state of tables.
type Introspector interface {
	Introspect(ctx context.Context, table string) (schema.State, error)
}

// LoadDeclared reads a declared schema file.
func LoadDeclared(fs vfs.FileSystem, path string) (*Declared, error) {
	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed reading schema file '%s': %w", path, err)
	}

	var decl Declared
	if err = yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("failed parsing schema file '%s': %w", path, err)
	}
	if err = decl.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema file '%s': %w", path, err)
	}

	return &decl, nil
}

// Validate checks that every declared table is structurally valid, and that
// no table is both declared and dropped.
func (d *Declared) Validate() error {
	seen := map[string]struct{}{}
	for _, t := range d.Tables {
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("table '%s' is declared more than once", t.Name)
		}
		seen[t.Name] = struct{}{}
		if err := t.State.Validate(); err != nil {
			return err
		}
	}
	for _, name := range d.Drop {
		if _, ok := seen[name]; ok {
			return fmt.Errorf("table '%s' is both declared and dropped", name)
		}
	}
	return nil
}

// Blueprints returns a blueprint per declared or dropped table, that changes
// its current structure into the declared one. Dropped tables that don't
// exist are ignored.
func (d *Declared) Blueprints(ctx context.Context, in Introspector) ([]*schema.Blueprint, error) {
	var bps []*schema.Blueprint
	for _, t := range d.Tables {
		base, err := in.Introspect(ctx, t.Name)
		if err != nil {
			return nil, fmt.Errorf("failed reading structure of table '%s': %w", t.Name, err)
		}
		bp := declare(base, t)
		if err = bp.Err(); err != nil {
			return nil, err
		}
		bps = append(bps, bp)
	}

	for _, name := range d.Drop {
		base, err := in.Introspect(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed reading structure of table '%s': %w", name, err)
		}
		if !base.Exists {
			continue
		}
		bps = append(bps, schema.NewBlueprint(base).Drop())
	}

	return bps, nil
}

// declare returns a blueprint that changes base into the declared table.
func declare(base schema.State, t DeclaredTable) *schema.Blueprint {
	var bp *schema.Blueprint
	if base.Exists {
		bp = schema.NewBlueprint(base)
	} else {
		bp = schema.CreateTable(t.Name)
	}

	for _, r := range t.Renames {
		// New tables and renames applied earlier have nothing to rename.
		if !base.Exists || (!base.HasColumn(r.From) && base.HasColumn(r.To)) {
			continue
		}
		bp.RenameColumn(r.From, r.To)
	}

	t.Indexes = slices.Clone(t.Indexes)
	for i, idx := range t.Indexes {
		if idx.Name == "" {
			t.Indexes[i].Name = schema.IndexName(t.Name, idx.Columns...)
		}
	}
	t.ForeignKeys = slices.Clone(t.ForeignKeys)
	for i, fk := range t.ForeignKeys {
		if fk.Name == "" {
			t.ForeignKeys[i].Name = schema.ForeignKeyName(t.Name, fk.Columns...)
		}
	}

	for _, col := range t.Columns {
		opts := []schema.ColumnOption{
			schema.Size(col.Size), schema.Precision(col.Precision, col.Scale), schema.NoDefault(),
		}
		if col.Nullable {
			opts = append(opts, schema.Nullable())
		} else {
			opts = append(opts, schema.NotNull())
		}
		if col.Default.Valid {
			opts = append(opts, schema.Default(col.Default.V))
		}
		bp.Column(col.Name, col.Type, opts...)
	}

	cur := bp.After()
	for _, fk := range cur.ForeignKeys {
		if !slices.ContainsFunc(t.ForeignKeys, fk.Equal) {
			bp.DropForeignKey(fk.Name)
		}
	}
	for _, idx := range cur.Indexes {
		if !slices.ContainsFunc(t.Indexes, idx.Equal) {
			bp.DropIndex(idx.Name)
		}
	}

	if !slices.Equal(cur.PrimaryKey, t.PrimaryKey) {
		bp.SetPrimaryKey(t.PrimaryKey...)
	}

	for _, col := range cur.Columns {
		if !t.HasColumn(col.Name) {
			bp.DropColumn(col.Name)
		}
	}

	for _, idx := range t.Indexes {
		if !slices.ContainsFunc(cur.Indexes, idx.Equal) {
			bp.AddIndex(idx)
		}
	}
	for _, fk := range t.ForeignKeys {
		if !slices.ContainsFunc(cur.ForeignKeys, fk.Equal) {
			bp.ForeignKey(fk)
		}
	}

	return bp
}
