// Package migrator applies and reverts migration units against a database,
// and tracks which units have been applied in a migration state table.
//
// Runs are single-threaded and fail fast: units are executed one at a time in
// version order, each in its own transaction, and the first failure halts the
// run. Later units are never attempted.
package migrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/nrednav/cuid2"

	"go.hackfix.me/schemer/driver/types"
	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/schema"
)

// DefaultTable is the default name of the migration state table.
const DefaultTable = "migrations"

// Direction is the direction of a run.
type Direction string

// Run directions.
const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// RunOptions modify the behavior of a run.
type RunOptions struct {
	// Steps limits the number of units to migrate. 0 means all eligible units.
	Steps int
	// Force allows applying units with a version lower than the highest
	// applied version.
	Force bool
}

// Migrator orchestrates migration runs.
type Migrator struct {
	driver  types.Driver
	repo    Repository
	table   string
	lockKey string
	timeNow func() time.Time
	logger  *slog.Logger
}

// New returns a new Migrator.
func New(driver types.Driver, repo Repository, opts ...Option) (*Migrator, error) {
	if driver == nil {
		return nil, errors.New("database driver is required")
	}
	if repo == nil {
		return nil, errors.New("migration repository is required")
	}

	m := &Migrator{driver: driver, repo: repo}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Table returns the name of the migration state table.
func (m *Migrator) Table() string {
	return m.table
}

// StateTable returns the structure of the migration state table.
func StateTable(name string) schema.State {
	return schema.State{
		Name: name,
		Columns: []schema.Column{
			{Name: "version", Type: schema.TypeBigInt},
			{Name: "name", Type: schema.TypeString, Size: 255},
			{Name: "checksum", Type: schema.TypeString, Size: 64},
			{Name: "applied_at", Type: schema.TypeTimestamp},
		},
		PrimaryKey: []string{"version"},
	}
}

// IsConfigured reports whether the migration state table exists.
func (m *Migrator) IsConfigured(ctx context.Context) (bool, error) {
	ok, err := m.driver.HasTable(ctx, m.table)
	if err != nil {
		return false, fmt.Errorf("failed checking migration table '%s': %w", m.table, err)
	}
	return ok, nil
}

// Configure creates the migration state table if it doesn't exist.
func (m *Migrator) Configure(ctx context.Context) error {
	ok, err := m.IsConfigured(ctx)
	if err != nil || ok {
		return err
	}

	tx, err := m.driver.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed starting transaction: %w", err)
	}
	if err = tx.Execute(ctx, operation.CreateTable(StateTable(m.table))); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed creating migration table '%s': %w", m.table, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed creating migration table '%s': %w", m.table, err)
	}

	m.logger.Info("created migration table", "table", m.table)

	return nil
}

// UnitStatus is the status of a unit as reported by Status.
type UnitStatus struct {
	Version   uint64
	Name      string
	Status    Status
	AppliedAt time.Time
	// Modified is true if the unit definition changed after it was applied.
	Modified bool
}

// Status returns the status of all known units, and of applied units whose
// definition is missing, ordered by version.
func (m *Migrator) Status(ctx context.Context) ([]UnitStatus, error) {
	units, records, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[uint64]types.Record, len(records))
	for _, rec := range records {
		byVersion[rec.Version] = rec
	}

	statuses := make([]UnitStatus, 0, len(units))
	for _, u := range units {
		us := UnitStatus{Version: u.Version, Name: u.Name, Status: StatusPending}
		if rec, ok := byVersion[u.Version]; ok {
			us.Status = StatusApplied
			us.AppliedAt = rec.AppliedAt
			us.Modified = rec.Checksum != "" && rec.Checksum != u.Checksum()
			delete(byVersion, u.Version)
		}
		statuses = append(statuses, us)
	}
	for _, rec := range byVersion {
		statuses = append(statuses, UnitStatus{
			Version: rec.Version, Name: rec.Name, Status: StatusMissing, AppliedAt: rec.AppliedAt,
		})
	}
	slices.SortFunc(statuses, func(a, b UnitStatus) int { return cmp.Compare(a.Version, b.Version) })

	return statuses, nil
}

// Run migrates the database in the given direction. It returns a report of
// the outcome of every unit considered by the run.
//
// If the context is canceled, the run stops before the next unit and the
// report's result is ResultPartial. Units are never interrupted midway.
func (m *Migrator) Run(ctx context.Context, dir Direction, opts RunOptions) (*Report, error) {
	if dir != DirectionUp && dir != DirectionDown {
		return nil, fmt.Errorf("invalid direction '%s'", dir)
	}
	if opts.Steps < 0 {
		return nil, fmt.Errorf("invalid number of steps %d: must not be negative", opts.Steps)
	}

	runID := cuid2.Generate()
	logger := m.logger.With("run_id", runID, "direction", dir)

	release, err := m.driver.Lock(ctx, m.lockKey)
	switch {
	case errors.Is(err, types.ErrLockUnsupported):
		logger.Warn("driver doesn't support locking; concurrent runs against the same database are unsafe",
			"driver", m.driver.Name())
	case err != nil:
		return nil, &LockUnavailableError{Key: m.lockKey, Err: err}
	default:
		defer func() {
			if rerr := release(); rerr != nil {
				logger.Warn("failed releasing migration lock", "key", m.lockKey, "error", rerr.Error())
			}
		}()
	}

	units, records, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	var plan, beyond []Unit
	if dir == DirectionUp {
		plan, beyond, err = planUp(units, records, opts, logger)
	} else {
		plan, beyond, err = planDown(units, records, opts, logger)
	}
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: runID, Direction: dir, StartedAt: m.timeNow(), Result: ResultSuccess}
	for _, u := range plan {
		report.Outcomes = append(report.Outcomes, Outcome{Version: u.Version, Name: u.Name, Result: OutcomeSkipped})
	}
	// Units past the step limit are reported after the planned ones, and are
	// never executed.
	for _, u := range beyond {
		report.Outcomes = append(report.Outcomes, Outcome{Version: u.Version, Name: u.Name, Result: OutcomeSkipped})
	}

	if len(plan) == 0 {
		logger.Info("nothing to migrate")
		report.FinishedAt = m.timeNow()
		return report, nil
	}

	caps := m.driver.Capabilities()
	if !caps.TransactionalDDL {
		logger.Warn("driver doesn't support transactional DDL; a failed unit can leave the database partially migrated",
			"driver", m.driver.Name())
	}

	for i, u := range plan {
		if err = ctx.Err(); err != nil {
			logger.Warn("run interrupted", "error", err.Error(), "remaining", len(plan)-i)
			report.Result = ResultPartial
			break
		}

		ulogger := logger.With("version", u.Version, "unit", u.Name)
		ulogger.Debug("migrating unit")

		start := m.timeNow()
		// Units run to completion once started.
		execErr := m.execute(context.WithoutCancel(ctx), u, dir, caps)
		report.Outcomes[i].Duration = m.timeNow().Sub(start)
		if execErr != nil {
			report.Outcomes[i].Result = OutcomeFailed
			report.Outcomes[i].Err = execErr
			report.Result = ResultFailed
			report.FinishedAt = m.timeNow()
			ulogger.Error("unit failed", "error", execErr.Error(), "rolled_back", execErr.RolledBack)
			return report, execErr
		}

		if dir == DirectionUp {
			report.Outcomes[i].Result = OutcomeApplied
			ulogger.Info("applied unit")
		} else {
			report.Outcomes[i].Result = OutcomeReverted
			ulogger.Info("reverted unit")
		}
	}

	report.FinishedAt = m.timeNow()

	return report, nil
}

func (m *Migrator) execute(ctx context.Context, u Unit, dir Direction, caps types.Capabilities) *ExecutionError {
	ops := u.Up
	if dir == DirectionDown {
		ops = u.Down
	}

	fail := func(tx types.Tx, idx int, op operation.Operation, err error) *ExecutionError {
		rolledBack := caps.TransactionalDDL
		if tx != nil {
			if rerr := tx.Rollback(); rerr != nil {
				m.logger.Warn("failed rolling back transaction", "version", u.Version, "error", rerr.Error())
				rolledBack = false
			}
		}
		return &ExecutionError{
			Version: u.Version, Name: u.Name, Index: idx, Operation: op, Err: err, RolledBack: rolledBack,
		}
	}

	tx, err := m.driver.Begin(ctx)
	if err != nil {
		// Nothing was changed.
		return &ExecutionError{
			Version: u.Version, Name: u.Name, Index: -1, RolledBack: true,
			Err: fmt.Errorf("failed starting transaction: %w", err),
		}
	}

	for i, op := range ops {
		if err = tx.Execute(ctx, op); err != nil {
			return fail(tx, i, op, err)
		}
	}

	if dir == DirectionUp {
		err = tx.InsertRecord(ctx, m.table, types.Record{
			Version: u.Version, Name: u.Name, Checksum: u.Checksum(), AppliedAt: m.timeNow().UTC(),
		})
	} else {
		err = tx.DeleteRecord(ctx, m.table, u.Version)
	}
	if err != nil {
		return fail(tx, -1, operation.Operation{}, err)
	}

	if err = tx.Commit(); err != nil {
		return fail(nil, -1, operation.Operation{}, fmt.Errorf("failed committing transaction: %w", err))
	}

	return nil
}

// load returns all units and the records of applied units. Units are sorted by
// version, and their status reflects the records.
func (m *Migrator) load(ctx context.Context) ([]Unit, []types.Record, error) {
	if err := m.Configure(ctx); err != nil {
		return nil, nil, err
	}

	units, err := m.repo.Units(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed loading migration units: %w", err)
	}
	slices.SortStableFunc(units, func(a, b Unit) int { return cmp.Compare(a.Version, b.Version) })
	for i := 1; i < len(units); i++ {
		if units[i].Version == units[i-1].Version {
			return nil, nil, fmt.Errorf("duplicate migration version %d: units '%s' and '%s'",
				units[i].Version, units[i-1].Name, units[i].Name)
		}
	}

	records, err := m.driver.Records(ctx, m.table)
	if err != nil {
		return nil, nil, fmt.Errorf("failed reading migration table '%s': %w", m.table, err)
	}

	applied := make(map[uint64]types.Record, len(records))
	for _, rec := range records {
		applied[rec.Version] = rec
	}
	for i := range units {
		units[i].Status = StatusPending
		if rec, ok := applied[units[i].Version]; ok {
			units[i].Status = StatusApplied
			units[i].AppliedAt = rec.AppliedAt
		}
	}

	return units, records, nil
}

// planUp returns the pending units to apply in order, and the eligible units
// left out by the step limit.
func planUp(units []Unit, records []types.Record, opts RunOptions, logger *slog.Logger) ([]Unit, []Unit, error) {
	var highest uint64
	for _, rec := range records {
		highest = max(highest, rec.Version)
	}

	var plan []Unit
	for _, u := range units {
		if u.Status == StatusApplied {
			continue
		}
		if u.Version < highest {
			if !opts.Force {
				return nil, nil, &OrderingConflictError{
					Direction: DirectionUp, Version: u.Version, Name: u.Name, Highest: highest,
					Reason: fmt.Sprintf("version is lower than the highest applied version %d", highest),
				}
			}
			logger.Warn("applying unit out of order", "version", u.Version, "unit", u.Name, "highest", highest)
		}
		plan = append(plan, u)
	}

	var beyond []Unit
	if opts.Steps > 0 && len(plan) > opts.Steps {
		plan, beyond = plan[:opts.Steps], plan[opts.Steps:]
	}

	return plan, beyond, nil
}

// planDown returns the applied units to revert in descending order, and the
// applied units left out by the step limit.
func planDown(units []Unit, records []types.Record, opts RunOptions, logger *slog.Logger) ([]Unit, []Unit, error) {
	byVersion := make(map[uint64]Unit, len(units))
	for _, u := range units {
		byVersion[u.Version] = u
	}

	records = slices.Clone(records)
	slices.SortFunc(records, func(a, b types.Record) int { return cmp.Compare(b.Version, a.Version) })
	var beyond []Unit
	if opts.Steps > 0 && len(records) > opts.Steps {
		for _, rec := range records[opts.Steps:] {
			u, ok := byVersion[rec.Version]
			if !ok {
				u = Unit{Version: rec.Version, Name: rec.Name}
			}
			beyond = append(beyond, u)
		}
		records = records[:opts.Steps]
	}

	plan := make([]Unit, 0, len(records))
	for _, rec := range records {
		u, ok := byVersion[rec.Version]
		if !ok {
			return nil, nil, &OrderingConflictError{
				Direction: DirectionDown, Version: rec.Version, Name: rec.Name,
				Reason: "applied unit has no definition in the repository",
			}
		}
		if rec.Checksum != "" && rec.Checksum != u.Checksum() {
			logger.Warn("unit definition changed after it was applied", "version", u.Version, "unit", u.Name)
		}
		plan = append(plan, u)
	}

	return plan, beyond, nil
}
