package config

import (
	"database/sql"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/schemer/driver/types"
)

func TestConfigLoad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   string
		exp    Config
		expErr string
	}{
		{
			name: "ok/empty",
			data: "",
		},
		{
			name: "ok/full",
			data: `{
  "database": {"driver": "postgresql", "dsn": "postgres://localhost/app"},
  "migrations": {
    "directory": "db/migrations", "table": "schema_history", "safe": false,
    "lock_key": "app", "lock_timeout": "1m30s"
  }
}`,
			exp: Config{
				Database: Database{
					Driver: sql.Null[types.DriverType]{V: types.DriverPostgres, Valid: true},
					DSN:    sql.Null[string]{V: "postgres://localhost/app", Valid: true},
				},
				Migrations: Migrations{
					Directory:   sql.Null[string]{V: "db/migrations", Valid: true},
					Table:       sql.Null[string]{V: "schema_history", Valid: true},
					Safe:        sql.Null[bool]{V: false, Valid: true},
					LockKey:     sql.Null[string]{V: "app", Valid: true},
					LockTimeout: sql.Null[time.Duration]{V: 90 * time.Second, Valid: true},
				},
			},
		},
		{
			name:   "err/driver",
			data:   `{"database": {"driver": "oracle"}}`,
			expErr: "failed parsing configuration file: unsupported database driver 'oracle'",
		},
		{
			name:   "err/lock_timeout",
			data:   `{"migrations": {"lock_timeout": "soon"}}`,
			expErr: "failed parsing configuration file: failed parsing migrations lock timeout: invalid duration 'soon'",
		},
		{
			name:   "err/negative_lock_timeout",
			data:   `{"migrations": {"lock_timeout": "-5s"}}`,
			expErr: "failed parsing configuration file: migrations lock timeout must not be negative: -5s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := memoryfs.New()
			if tt.data != "" {
				require.NoError(t, vfs.WriteFile(fs, "/config.json", []byte(tt.data), 0o600))
			}

			cfg := NewConfig(fs, "/config.json")
			err := cfg.Load()
			if tt.expErr != "" {
				assert.EqualError(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exp.Database, cfg.Database)
			assert.Equal(t, tt.exp.Migrations, cfg.Migrations)
		})
	}
}

func TestConfigSave(t *testing.T) {
	t.Parallel()

	fs := memoryfs.New()
	cfg := NewConfig(fs, "/etc/schemer/config.json")
	assert.False(t, cfg.Exists())

	cfg.Database.Driver = sql.Null[types.DriverType]{V: types.DriverSQLite, Valid: true}
	cfg.Database.DSN = sql.Null[string]{V: "app.db", Valid: true}
	cfg.SetDefaults()
	require.NoError(t, cfg.Save())
	assert.True(t, cfg.Exists())

	data, err := vfs.ReadFile(fs, "/etc/schemer/config.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{
  "database": {"driver": "sqlite", "dsn": "app.db"},
  "migrations": {
    "directory": "migrations", "table": "migrations", "safe": true,
    "lock_key": "migrations", "lock_timeout": "10s"
  }
}`, string(data))

	loaded := NewConfig(fs, "/etc/schemer/config.json")
	require.NoError(t, loaded.Load())
	assert.Equal(t, cfg.Database, loaded.Database)
	assert.Equal(t, cfg.Migrations, loaded.Migrations)

	assert.Equal(t, "/etc/schemer/migrations", cfg.MigrationsDir())
	cfg.Migrations.Directory.V = "/var/lib/migrations"
	assert.Equal(t, "/var/lib/migrations", cfg.MigrationsDir())
}
