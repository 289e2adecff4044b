// Package memory implements an in-memory database driver. It keeps only table
// structures, and is used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.hackfix.me/schemer/driver/types"
	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/schema"
)

// Driver is an in-memory database driver.
type Driver struct {
	mx      sync.Mutex
	states  map[string]schema.State
	records map[string]map[uint64]types.Record
	caps    types.Capabilities
	lock    sync.Mutex
	noLock  bool

	failErr error                           // to simulate errors
	failOn  func(operation.Operation) error // to simulate errors of specific operations
	// Executed is a log of all successfully executed operations.
	Executed []operation.Operation
}

var _ types.Driver = (*Driver)(nil)

// New returns a new in-memory driver with transactional DDL, containing the
// given tables.
func New(tables ...schema.State) *Driver {
	d := &Driver{
		states:  make(map[string]schema.State, len(tables)),
		records: make(map[string]map[uint64]types.Record),
		caps: types.Capabilities{
			TransactionalDDL: true,
			AlterColumn:      true,
			AlterConstraints: true,
		},
	}
	for _, s := range tables {
		s = s.Clone()
		s.Exists, s.Dropped = true, false
		d.states[s.Name] = s
	}
	return d
}

// SetCapabilities overrides the capabilities of the driver.
func (d *Driver) SetCapabilities(caps types.Capabilities) {
	d.caps = caps
}

// SetFailError makes every subsequent operation fail with err. A nil err
// resets it.
func (d *Driver) SetFailError(err error) {
	d.failErr = err
}

// SetFailOn makes every subsequent operation for which fn returns an error
// fail with that error.
func (d *Driver) SetFailOn(fn func(operation.Operation) error) {
	d.failOn = fn
}

// DisableLock makes Lock return types.ErrLockUnsupported.
func (d *Driver) DisableLock() {
	d.noLock = true
}

// Name returns the name of the backend.
func (d *Driver) Name() string {
	return string(types.DriverMemory)
}

// Capabilities returns what the backend can do natively.
func (d *Driver) Capabilities() types.Capabilities {
	return d.caps
}

// Introspect returns the current state of a table.
func (d *Driver) Introspect(_ context.Context, table string) (schema.State, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	s, ok := d.states[table]
	if !ok {
		return schema.NewState(table), nil
	}
	return s.Clone(), nil
}

// Tables returns the names of all tables, sorted.
func (d *Driver) Tables(_ context.Context) ([]string, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return slices.Sorted(maps.Keys(d.states)), nil
}

// HasTable reports whether the table exists.
func (d *Driver) HasTable(_ context.Context, table string) (bool, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	_, ok := d.states[table]
	return ok, nil
}

// Records returns all rows of the migration state table, ordered by version.
func (d *Driver) Records(_ context.Context, table string) ([]types.Record, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if _, ok := d.states[table]; !ok {
		return nil, fmt.Errorf("table '%s' doesn't exist", table)
	}
	recs := slices.Collect(maps.Values(d.records[table]))
	slices.SortFunc(recs, func(a, b types.Record) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return recs, nil
}

// Lock acquires the in-process lock. The key is ignored, since a single
// process owns the data.
func (d *Driver) Lock(_ context.Context, _ string) (func() error, error) {
	if d.noLock {
		return nil, types.ErrLockUnsupported
	}
	if !d.lock.TryLock() {
		return nil, types.ErrLockHeld
	}
	return func() error {
		d.lock.Unlock()
		return nil
	}, nil
}

// Begin starts a transaction.
func (d *Driver) Begin(_ context.Context) (types.Tx, error) {
	if d.failErr != nil {
		return nil, d.failErr
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	return &tx{d: d, states: cloneStates(d.states), records: cloneRecords(d.records)}, nil
}

// Close is a no-op.
func (d *Driver) Close() error {
	return nil
}

type tx struct {
	d        *Driver
	states   map[string]schema.State
	records  map[string]map[uint64]types.Record
	executed []operation.Operation
	done     bool
}

func (t *tx) Execute(_ context.Context, op operation.Operation) error {
	if t.done {
		return fmt.Errorf("transaction is already closed")
	}
	if err := t.d.failErr; err != nil {
		return err
	}
	if t.d.failOn != nil {
		if err := t.d.failOn(op); err != nil {
			return err
		}
	}

	if !t.d.caps.TransactionalDDL {
		// Structural changes are applied immediately.
		t.d.mx.Lock()
		defer t.d.mx.Unlock()
		if err := operation.Apply(t.d.states, op); err != nil {
			return err
		}
		t.d.Executed = append(t.d.Executed, op)
		t.states = cloneStates(t.d.states)
		return nil
	}

	if err := operation.Apply(t.states, op); err != nil {
		return err
	}
	t.executed = append(t.executed, op)

	return nil
}

func (t *tx) InsertRecord(_ context.Context, table string, rec types.Record) error {
	if _, ok := t.states[table]; !ok {
		return fmt.Errorf("table '%s' doesn't exist", table)
	}
	if t.records[table] == nil {
		t.records[table] = map[uint64]types.Record{}
	}
	if _, ok := t.records[table][rec.Version]; ok {
		return fmt.Errorf("record with version %d already exists", rec.Version)
	}
	t.records[table][rec.Version] = rec
	return nil
}

func (t *tx) DeleteRecord(_ context.Context, table string, version uint64) error {
	if _, ok := t.records[table][version]; !ok {
		return fmt.Errorf("record with version %d doesn't exist", version)
	}
	delete(t.records[table], version)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction is already closed")
	}
	t.done = true

	t.d.mx.Lock()
	defer t.d.mx.Unlock()
	if t.d.caps.TransactionalDDL {
		t.d.states = t.states
		t.d.Executed = append(t.d.Executed, t.executed...)
	}
	t.d.records = t.records

	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	return nil
}

func cloneStates(states map[string]schema.State) map[string]schema.State {
	c := make(map[string]schema.State, len(states))
	for k, v := range states {
		c[k] = v.Clone()
	}
	return c
}

func cloneRecords(records map[string]map[uint64]types.Record) map[string]map[uint64]types.Record {
	c := make(map[string]map[uint64]types.Record, len(records))
	for k, v := range records {
		c[k] = maps.Clone(v)
	}
	return c
}
