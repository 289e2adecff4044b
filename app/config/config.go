package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/schemer/driver/types"
	"go.hackfix.me/schemer/migrator"
	"go.hackfix.me/schemer/xtime"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Database   Database
	Migrations Migrations

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Exists reports whether the configuration file exists.
func (c *Config) Exists() bool {
	_, err := c.fs.Stat(c.path)
	return err == nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	// The DSN may contain credentials.
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o600); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Database defines the connection to the target database.
type Database struct {
	// Driver is the database backend.
	Driver sql.Null[types.DriverType] `json:"driver"`
	// DSN is the backend-specific data source name, e.g. a SQLite file path or
	// a PostgreSQL connection URL.
	DSN sql.Null[string] `json:"dsn"`
}

// Migrations defines options of the migration repository and runs.
type Migrations struct {
	// Directory is where migration unit files are stored. Relative paths are
	// resolved against the directory of the configuration file.
	Directory sql.Null[string] `json:"directory"`
	// Table is the name of the migration state table.
	Table sql.Null[string] `json:"table"`
	// Safe is false for environments where running migrations requires explicit
	// confirmation, e.g. production.
	Safe sql.Null[bool] `json:"safe"`
	// LockKey identifies the lock held during runs.
	LockKey sql.Null[string] `json:"lock_key"`
	// LockTimeout is how long to wait for the lock held by another run.
	// It serializes from/to xtime.Duration string values.
	LockTimeout sql.Null[time.Duration] `json:"lock_timeout"`
}

type cfgWrapper struct {
	Database   dbCfgWrapper  `json:"database"`
	Migrations migCfgWrapper `json:"migrations"`
}
type dbCfgWrapper struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}
type migCfgWrapper struct {
	Directory   string `json:"directory,omitempty"`
	Table       string `json:"table,omitempty"`
	Safe        *bool  `json:"safe,omitempty"`
	LockKey     string `json:"lock_key,omitempty"`
	LockTimeout string `json:"lock_timeout,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Database.Driver.Valid {
		w.Database.Driver = string(c.Database.Driver.V)
	}
	if c.Database.DSN.Valid {
		w.Database.DSN = c.Database.DSN.V
	}

	if c.Migrations.Directory.Valid {
		w.Migrations.Directory = c.Migrations.Directory.V
	}
	if c.Migrations.Table.Valid {
		w.Migrations.Table = c.Migrations.Table.V
	}
	if c.Migrations.Safe.Valid {
		safe := c.Migrations.Safe.V
		w.Migrations.Safe = &safe
	}
	if c.Migrations.LockKey.Valid {
		w.Migrations.LockKey = c.Migrations.LockKey.V
	}
	if c.Migrations.LockTimeout.Valid {
		w.Migrations.LockTimeout = xtime.FormatDuration(c.Migrations.LockTimeout.V, time.Millisecond)
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Database.Driver != "" {
		dt, err := types.DriverTypeFromString(w.Database.Driver)
		if err != nil {
			return err
		}
		c.Database.Driver = sql.Null[types.DriverType]{V: dt, Valid: true}
	}
	if w.Database.DSN != "" {
		c.Database.DSN = sql.Null[string]{V: w.Database.DSN, Valid: true}
	}

	if w.Migrations.Directory != "" {
		c.Migrations.Directory = sql.Null[string]{V: w.Migrations.Directory, Valid: true}
	}
	if w.Migrations.Table != "" {
		c.Migrations.Table = sql.Null[string]{V: w.Migrations.Table, Valid: true}
	}
	if w.Migrations.Safe != nil {
		c.Migrations.Safe = sql.Null[bool]{V: *w.Migrations.Safe, Valid: true}
	}
	if w.Migrations.LockKey != "" {
		c.Migrations.LockKey = sql.Null[string]{V: w.Migrations.LockKey, Valid: true}
	}
	if w.Migrations.LockTimeout != "" {
		dur, err := xtime.ParseDuration(w.Migrations.LockTimeout)
		if err != nil {
			return fmt.Errorf("failed parsing migrations lock timeout: %w", err)
		}
		if dur < 0 {
			return fmt.Errorf("migrations lock timeout must not be negative: %s", w.Migrations.LockTimeout)
		}
		c.Migrations.LockTimeout = sql.Null[time.Duration]{V: dur, Valid: true}
	}

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
func (c *Config) SetDefaults() {
	if !c.Migrations.Directory.Valid {
		c.Migrations.Directory = sql.Null[string]{V: "migrations", Valid: true}
	}
	if !c.Migrations.Table.Valid {
		c.Migrations.Table = sql.Null[string]{V: migrator.DefaultTable, Valid: true}
	}
	if !c.Migrations.Safe.Valid {
		c.Migrations.Safe = sql.Null[bool]{V: true, Valid: true}
	}
	if !c.Migrations.LockKey.Valid {
		c.Migrations.LockKey = sql.Null[string]{V: c.Migrations.Table.V, Valid: true}
	}
	if !c.Migrations.LockTimeout.Valid {
		c.Migrations.LockTimeout = sql.Null[time.Duration]{V: 10 * time.Second, Valid: true}
	}
}

// MigrationsDir returns the absolute path of the migrations directory.
func (c *Config) MigrationsDir() string {
	dir := c.Migrations.Directory.V
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(filepath.Dir(c.path), dir)
}
