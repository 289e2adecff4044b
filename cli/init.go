package cli

import (
	"database/sql"
	"fmt"

	actx "go.hackfix.me/schemer/app/context"
	aerrors "go.hackfix.me/schemer/app/errors"
)

// The Init command writes the configuration file, creates the migrations
// directory, and the migration state table in the target database.
type Init struct {
	Force  bool `help:"Overwrite an existing configuration file."`
	Unsafe bool `help:"Require --confirm to run migrations, e.g. in production environments."`
}

// Run the init command.
func (c *Init) Run(appCtx *actx.Context) error {
	cfg := appCtx.Config
	if cfg.Exists() && !c.Force {
		return aerrors.NewRuntimeError(
			fmt.Sprintf("configuration file '%s' already exists", cfg.Path()), nil,
			"Pass --force to overwrite it.")
	}

	if c.Unsafe {
		cfg.Migrations.Safe = sql.Null[bool]{V: false, Valid: true}
	}

	drv, closeDrv, err := openDriver(appCtx)
	if err != nil {
		return err
	}
	defer closeDrv()

	m, err := newMigrator(appCtx, drv)
	if err != nil {
		return err
	}
	if err = m.Configure(appCtx.Ctx); err != nil {
		return aerrors.NewRuntimeError("failed creating migration table", err, "",
			"table", m.Table())
	}

	dir := cfg.MigrationsDir()
	if err = appCtx.FS.MkdirAll(dir, 0o700); err != nil {
		return aerrors.NewRuntimeError("failed creating migrations directory", err, "", "path", dir)
	}

	if err = cfg.Save(); err != nil {
		return aerrors.NewRuntimeError("failed saving configuration", err, "", "path", cfg.Path())
	}

	appCtx.Logger.Info("initialized schemer",
		"config", cfg.Path(), "migrations_dir", dir, "table", m.Table())

	return nil
}
