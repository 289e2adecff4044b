// Package app wires the application: it parses the command line, loads the
// configuration, and runs the requested command.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/schemer/app/config"
	actx "go.hackfix.me/schemer/app/context"
	"go.hackfix.me/schemer/cli"
)

// App is the application.
type App struct {
	name string
	ctx  *actx.Context
	// config is set with the WithConfig option.
	config *config.Config
	cli    *cli.CLI
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application. configFilePath is the default path of the
// configuration file, which can be overridden on the command line.
func New(name, configFilePath string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		TimeNow: time.Now,
		Version: version,
	}
	app := &App{name: name, ctx: defaultCtx}

	for _, opt := range opts {
		opt(app)
	}

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(app.ctx, configFilePath, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	cfg := app.config
	if cfg == nil || cfg.Path() != app.cli.ConfigFile {
		cfg = config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
		if err := cfg.Load(); err != nil {
			return err
		}
	}
	app.ctx.Config = cfg
	if err := app.cli.ApplyConfig(app.ctx.Config); err != nil {
		return err
	}
	app.ctx.Config.SetDefaults()

	if err := app.cli.Execute(app.ctx); err != nil {
		return err
	}

	return nil
}
