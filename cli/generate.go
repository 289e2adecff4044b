package cli

import (
	"fmt"

	actx "go.hackfix.me/schemer/app/context"
	aerrors "go.hackfix.me/schemer/app/errors"
	"go.hackfix.me/schemer/atomizer"
	"go.hackfix.me/schemer/migrator"
	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/repository"
)

// The Generate command creates a new migration unit. If a declared schema file
// is given, the unit's operations are derived from the difference between the
// current database structure and the declared one. Otherwise, the unit is
// created empty, for editing by hand.
type Generate struct {
	Name     string `arg:"" help:"Migration name. Only letters, digits and underscores are allowed."`
	Declared string `short:"f" help:"Path to a declared schema file."`
	DryRun   bool   `help:"Print the migration instead of saving it."`
}

// Run the generate command.
func (c *Generate) Run(appCtx *actx.Context) error {
	unit := migrator.Unit{
		Version: migrator.NewVersion(appCtx.TimeNow()),
		Name:    c.Name,
		Up:      []operation.Operation{},
		Down:    []operation.Operation{},
	}

	if c.Declared != "" {
		up, down, err := c.declare(appCtx)
		if err != nil {
			return err
		}
		unit.Up, unit.Down = up, down
	}

	if c.DryRun {
		data, err := repository.Encode(unit)
		if err != nil {
			return aerrors.NewRuntimeError("failed encoding migration", err, "")
		}
		if _, err = appCtx.Stdout.Write(data); err != nil {
			return aerrors.NewRuntimeError("failed writing to stdout", err, "")
		}
		return nil
	}

	repo := newRepository(appCtx)
	if err := repo.Register(appCtx.Ctx, unit); err != nil {
		return aerrors.NewRuntimeError("failed saving migration", err, "")
	}

	appCtx.Logger.Info("created migration", "version", unit.Version, "name", unit.Name,
		"path", repo.Path(unit), "operations", len(unit.Up))

	return nil
}

func (c *Generate) declare(appCtx *actx.Context) (up, down []operation.Operation, err error) {
	decl, err := repository.LoadDeclared(appCtx.FS, c.Declared)
	if err != nil {
		return nil, nil, aerrors.NewRuntimeError("failed loading declared schema", err, "")
	}

	drv, closeDrv, err := openDriver(appCtx)
	if err != nil {
		return nil, nil, err
	}
	defer closeDrv()

	bps, err := decl.Blueprints(appCtx.Ctx, drv)
	if err != nil {
		return nil, nil, aerrors.NewRuntimeError("failed comparing declared schema", err, "")
	}

	a := atomizer.New()
	for _, bp := range bps {
		if err = a.AddBlueprint(bp); err != nil {
			return nil, nil, aerrors.NewRuntimeError("failed comparing declared schema", err, "")
		}
	}
	if a.Empty() {
		return nil, nil, aerrors.NewRuntimeError(
			fmt.Sprintf("database structure already matches '%s'", c.Declared), nil, "")
	}

	if up, err = a.Declare(); err != nil {
		return nil, nil, aerrors.NewRuntimeError("failed generating operations", err, "")
	}
	if down, err = a.Revert(); err != nil {
		return nil, nil, aerrors.NewRuntimeError("failed generating operations", err, "")
	}

	appCtx.Logger.Debug("generated operations", "tables", a.Tables(), "operations", len(up))

	return up, down, nil
}
