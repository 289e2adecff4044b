// Package repository stores migration units and declared schemas as YAML
// files.
package repository

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"

	"go.hackfix.me/schemer/migrator"
	"go.hackfix.me/schemer/operation"
)

// unitFileRx matches unit file names: <version>_<name>.yaml
var unitFileRx = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)\.ya?ml$`)

// nameRx matches valid unit names.
var nameRx = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type unitFile struct {
	Version uint64                `yaml:"version"`
	Name    string                `yaml:"name"`
	Up      []operation.Operation `yaml:"up"`
	Down    []operation.Operation `yaml:"down"`
}

// FS is a repository of migration units stored as YAML files in a directory.
type FS struct {
	fs  vfs.FileSystem
	dir string
}

var _ migrator.Repository = (*FS)(nil)

// NewFS returns a new repository of units stored in dir.
func NewFS(fs vfs.FileSystem, dir string) *FS {
	return &FS{fs: fs, dir: dir}
}

// Dir returns the directory of the repository.
func (r *FS) Dir() string {
	return r.dir
}

// Units returns all units ordered by version. A missing directory contains no
// units.
func (r *FS) Units(_ context.Context) ([]migrator.Unit, error) {
	entries, err := vfs.ReadDir(r.fs, r.dir)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed reading migrations directory '%s': %w", r.dir, err)
	}

	var units []migrator.Unit
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := unitFileRx.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version in migration file name '%s': %w", entry.Name(), err)
		}

		unit, err := r.load(entry.Name())
		if err != nil {
			return nil, err
		}
		if unit.Version != version || unit.Name != m[2] {
			return nil, fmt.Errorf("migration file '%s' contains unit %s", entry.Name(), unit.ID())
		}
		units = append(units, unit)
	}

	slices.SortFunc(units, func(a, b migrator.Unit) int { return cmp.Compare(a.Version, b.Version) })

	return units, nil
}

func (r *FS) load(fileName string) (migrator.Unit, error) {
	path := filepath.Join(r.dir, fileName)
	data, err := vfs.ReadFile(r.fs, path)
	if err != nil {
		return migrator.Unit{}, fmt.Errorf("failed reading migration file '%s': %w", path, err)
	}

	var uf unitFile
	if err = yaml.Unmarshal(data, &uf); err != nil {
		return migrator.Unit{}, fmt.Errorf("failed parsing migration file '%s': %w", path, err)
	}

	unit := migrator.Unit{
		Version: uf.Version, Name: uf.Name, Up: uf.Up, Down: uf.Down, Status: migrator.StatusPending,
	}
	if err = unit.Validate(); err != nil {
		return migrator.Unit{}, fmt.Errorf("invalid migration file '%s': %w", path, err)
	}

	return unit, nil
}

// Register writes a new unit file. It fails if a unit with the same version
// already exists.
func (r *FS) Register(ctx context.Context, unit migrator.Unit) error {
	if !nameRx.MatchString(unit.Name) {
		return fmt.Errorf("invalid migration name '%s': only letters, digits and underscores are allowed", unit.Name)
	}
	if err := unit.Validate(); err != nil {
		return err
	}

	units, err := r.Units(ctx)
	if err != nil {
		return err
	}
	for _, u := range units {
		if u.Version == unit.Version {
			return fmt.Errorf("migration with version %d already exists: %s", unit.Version, u.ID())
		}
	}

	data, err := Encode(unit)
	if err != nil {
		return err
	}

	if err = r.fs.MkdirAll(r.dir, 0o700); err != nil {
		return fmt.Errorf("failed creating migrations directory '%s': %w", r.dir, err)
	}
	path := r.Path(unit)
	if err = vfs.WriteFile(r.fs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed writing migration file '%s': %w", path, err)
	}

	return nil
}

// Encode returns the file contents of the given unit.
func Encode(unit migrator.Unit) ([]byte, error) {
	data, err := yaml.Marshal(unitFile{Version: unit.Version, Name: unit.Name, Up: unit.Up, Down: unit.Down})
	if err != nil {
		return nil, fmt.Errorf("failed encoding migration %s: %w", unit.ID(), err)
	}
	return data, nil
}

// Path returns the path of the file of the given unit.
func (r *FS) Path(unit migrator.Unit) string {
	return filepath.Join(r.dir, unit.ID()+".yaml")
}
