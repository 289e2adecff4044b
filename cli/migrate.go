package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	actx "go.hackfix.me/schemer/app/context"
	aerrors "go.hackfix.me/schemer/app/errors"
	"go.hackfix.me/schemer/migrator"
	"go.hackfix.me/schemer/xtime"
)

// The Up command applies pending migration units in version order.
type Up struct {
	Steps   int  `short:"n" help:"Maximum number of migrations to apply. 0 applies all pending migrations."`
	Force   bool `help:"Apply migrations with a version lower than the latest applied migration."`
	Confirm bool `help:"Confirm running migrations in an unsafe environment."`
}

// Run the up command.
func (c *Up) Run(appCtx *actx.Context) error {
	if err := checkSafe(appCtx, c.Confirm); err != nil {
		return err
	}
	return runMigrations(appCtx, migrator.DirectionUp, migrator.RunOptions{Steps: c.Steps, Force: c.Force})
}

// The Down command reverts applied migration units in reverse version order.
type Down struct {
	Steps   int  `short:"n" default:"1" help:"Number of migrations to revert."`
	All     bool `help:"Revert all applied migrations."`
	Confirm bool `help:"Confirm running migrations in an unsafe environment."`
}

// Run the down command.
func (c *Down) Run(appCtx *actx.Context) error {
	if err := checkSafe(appCtx, c.Confirm); err != nil {
		return err
	}
	if c.Steps < 1 && !c.All {
		return aerrors.NewRuntimeError("number of steps must be greater than 0", nil,
			"Pass --all to revert all migrations.")
	}
	steps := c.Steps
	if c.All {
		steps = 0
	}
	return runMigrations(appCtx, migrator.DirectionDown, migrator.RunOptions{Steps: steps})
}

func runMigrations(appCtx *actx.Context, dir migrator.Direction, opts migrator.RunOptions) error {
	drv, closeDrv, err := openDriver(appCtx)
	if err != nil {
		return err
	}
	defer closeDrv()

	m, err := newMigrator(appCtx, drv)
	if err != nil {
		return err
	}

	report, err := m.Run(appCtx.Ctx, dir, opts)
	if report != nil {
		if rerr := renderReport(report, appCtx); rerr != nil {
			return rerr
		}
	}

	var (
		execErr  *migrator.ExecutionError
		orderErr *migrator.OrderingConflictError
		lockErr  *migrator.LockUnavailableError
	)
	switch {
	case errors.As(err, &execErr):
		hint := "The failed migration was rolled back. Fix it and run the command again."
		if !execErr.RolledBack {
			hint = "The database may be partially migrated. Inspect it before running the command again."
		}
		return aerrors.NewRuntimeError(fmt.Sprintf("migration %d_%s failed", execErr.Version, execErr.Name),
			execErr.Err, hint, "operation", execErr.Index, "rolled_back", execErr.RolledBack)
	case errors.As(err, &orderErr):
		hint := ""
		if orderErr.Direction == migrator.DirectionUp {
			hint = "Pass --force to apply it anyway."
		}
		return aerrors.NewRuntimeError(orderErr.Error(), nil, hint)
	case errors.As(err, &lockErr):
		return aerrors.NewRuntimeError("another migration run is in progress", lockErr, "",
			"lock_key", lockErr.Key)
	case err != nil:
		return aerrors.NewRuntimeError(fmt.Sprintf("failed running %s migrations", dir), err, "")
	}

	if report.Result == migrator.ResultPartial {
		return aerrors.NewRuntimeError("migration run was interrupted", appCtx.Ctx.Err(), "",
			"applied", report.Count(migrator.OutcomeApplied),
			"reverted", report.Count(migrator.OutcomeReverted),
			"skipped", report.Count(migrator.OutcomeSkipped))
	}

	return nil
}

func renderReport(report *migrator.Report, appCtx *actx.Context) error {
	data := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		var dur string
		if o.Result != migrator.OutcomeSkipped {
			dur = xtime.FormatDuration(o.Duration, time.Millisecond)
		}
		data = append(data, []string{strconv.FormatUint(o.Version, 10), o.Name, string(o.Result), dur})
	}

	if err := renderTable(appCtx.Stdout, []string{"Version", "Name", "Result", "Duration"}, data); err != nil {
		return aerrors.NewRuntimeError("failed rendering table", err, "")
	}

	return nil
}
