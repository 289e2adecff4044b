package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/schemer/app/config"
	actx "go.hackfix.me/schemer/app/context"
	"go.hackfix.me/schemer/driver/types"
)

// CLI is the command line interface of schemer.
type CLI struct {
	Init     Init     `kong:"cmd,help='Create the configuration file and the migration state table.'"`
	Status   Status   `kong:"cmd,help='Show the status of all migrations.'"`
	Up       Up       `kong:"cmd,help='Apply pending migrations.'"`
	Down     Down     `kong:"cmd,help='Revert applied migrations.'"`
	Generate Generate `kong:"cmd,help='Create a new migration.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`

	// Configuration values can be overridden per invocation. They're applied
	// on top of the configuration file.
	Database struct {
		Driver string `help:"Database driver. Valid values: memory, sqlite, postgres."`
		DSN    string `name:"dsn" help:"Data source name, e.g. a SQLite file path or a PostgreSQL connection URL."`
	} `embed:"" prefix:"db-"`
	MigrationsDir string `help:"Path to the directory where migration files are stored."`

	ConfigFile string           `kong:"default='${configFile}',help='Path to the configuration file.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(appCtx *actx.Context, configFilePath, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("schemer"),
		kong.Description("Declarative database schema migrations."),
		kong.UsageOnError(),
		kong.DefaultEnvars("SCHEMER"),
		kong.Resolvers(envResolver(appCtx.Env)),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"version":    version,
		},
		kong.Writers(appCtx.Stdout, appCtx.Stderr),
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// envResolver resolves flag values from the application environment, so that
// environment variables can be injected without touching the process.
func envResolver(env actx.Environment) kong.ResolverFunc {
	return func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		if env == nil {
			return nil, nil //nolint:nilnil // No value is a valid result.
		}
		for _, name := range flag.Envs {
			if val := env.Get(name); val != "" {
				return val, nil
			}
		}
		return nil, nil //nolint:nilnil // No value is a valid result.
	}
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// ApplyConfig applies the values set via CLI flags or environment variables to
// the configuration, overriding the values read from the configuration file.
func (c *CLI) ApplyConfig(cfg *config.Config) error {
	if c.Database.Driver != "" {
		dt, err := types.DriverTypeFromString(c.Database.Driver)
		if err != nil {
			return err
		}
		cfg.Database.Driver = sql.Null[types.DriverType]{V: dt, Valid: true}
	}
	if c.Database.DSN != "" {
		cfg.Database.DSN = sql.Null[string]{V: c.Database.DSN, Valid: true}
	}
	if c.MigrationsDir != "" {
		cfg.Migrations.Directory = sql.Null[string]{V: c.MigrationsDir, Valid: true}
	}

	return nil
}
