package cli

import (
	"strconv"
	"time"

	actx "go.hackfix.me/schemer/app/context"
	aerrors "go.hackfix.me/schemer/app/errors"
	"go.hackfix.me/schemer/migrator"
)

// The Status command lists all migration units and whether they're applied.
type Status struct {
	Pending bool `help:"Only show pending migrations."`
}

// Run the status command.
func (c *Status) Run(appCtx *actx.Context) error {
	drv, closeDrv, err := openDriver(appCtx)
	if err != nil {
		return err
	}
	defer closeDrv()

	m, err := newMigrator(appCtx, drv)
	if err != nil {
		return err
	}

	statuses, err := m.Status(appCtx.Ctx)
	if err != nil {
		return aerrors.NewRuntimeError("failed reading migration status", err, "")
	}

	data := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		if c.Pending && s.Status != migrator.StatusPending {
			continue
		}
		var appliedAt string
		if !s.AppliedAt.IsZero() {
			appliedAt = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		status := string(s.Status)
		if s.Modified {
			status += " (modified)"
		}
		data = append(data, []string{strconv.FormatUint(s.Version, 10), s.Name, status, appliedAt})
	}

	if err = renderTable(appCtx.Stdout, []string{"Version", "Name", "Status", "Applied At"}, data); err != nil {
		return aerrors.NewRuntimeError("failed rendering table", err, "")
	}

	return nil
}
