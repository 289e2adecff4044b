package cli

import (
	"fmt"

	actx "go.hackfix.me/schemer/app/context"
	aerrors "go.hackfix.me/schemer/app/errors"
	"go.hackfix.me/schemer/driver"
	"go.hackfix.me/schemer/driver/types"
	"go.hackfix.me/schemer/migrator"
	"go.hackfix.me/schemer/repository"
)

// openDriver returns the driver of the application context, or opens a new
// one based on the configuration. The returned function closes a driver opened
// here, and is a no-op otherwise.
func openDriver(appCtx *actx.Context) (types.Driver, func(), error) {
	if appCtx.Driver != nil {
		return appCtx.Driver, func() {}, nil
	}

	cfg := appCtx.Config
	if !cfg.Database.Driver.Valid {
		return nil, nil, aerrors.NewRuntimeError("database driver isn't configured", nil,
			"Run 'schemer init' or pass --db-driver and --db-dsn.")
	}

	drv, err := driver.Open(appCtx.Ctx, cfg.Database.Driver.V, cfg.Database.DSN.V,
		cfg.Migrations.LockTimeout.V, appCtx.Logger)
	if err != nil {
		return nil, nil, aerrors.NewRuntimeError("failed connecting to the database", err, "",
			"driver", cfg.Database.Driver.V)
	}

	return drv, func() {
		if cerr := drv.Close(); cerr != nil {
			appCtx.Logger.Warn("failed closing database connection", "error", cerr.Error())
		}
	}, nil
}

// newRepository returns the repository of migration units in the configured
// migrations directory.
func newRepository(appCtx *actx.Context) *repository.FS {
	return repository.NewFS(appCtx.FS, appCtx.Config.MigrationsDir())
}

func newMigrator(appCtx *actx.Context, drv types.Driver) (*migrator.Migrator, error) {
	cfg := appCtx.Config
	m, err := migrator.New(drv, newRepository(appCtx),
		migrator.WithTable(cfg.Migrations.Table.V),
		migrator.WithLockKey(cfg.Migrations.LockKey.V),
		migrator.WithLogger(appCtx.Logger),
		migrator.WithTimeNow(appCtx.TimeNow),
	)
	if err != nil {
		return nil, aerrors.NewRuntimeError("failed initializing migrator", err, "")
	}

	return m, nil
}

// checkSafe returns an error if the configured environment requires an
// explicit confirmation to run migrations, and it wasn't given.
func checkSafe(appCtx *actx.Context, confirm bool) error {
	if appCtx.Config.Migrations.Safe.V || confirm {
		return nil
	}
	return aerrors.NewRuntimeError(
		fmt.Sprintf("refusing to migrate: environment in '%s' is marked as unsafe", appCtx.Config.Path()),
		nil, "Pass --confirm to run migrations anyway.")
}
