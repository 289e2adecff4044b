package app

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/schemer/app/config"
	aerrors "go.hackfix.me/schemer/app/errors"
	"go.hackfix.me/schemer/repository"
)

const declaredSchema = `tables:
  - name: users
    columns:
      - name: id
        type: integer
      - name: name
        type: string
        size: 100
        nullable: true
    primary_key: [id]
  - name: posts
    columns:
      - name: id
        type: integer
      - name: user_id
        type: integer
    primary_key: [id]
    foreign_keys:
      - columns: [user_id]
        ref_table: users
        ref_columns: [id]
        on_delete: CASCADE
`

// unitFile returns a migration file that adds a nullable column to users.
func unitFile(version uint64, name, column string) string {
	return fmt.Sprintf(`version: %d
name: %s
up:
  - op: add_column
    table: users
    column:
      name: %s
      type: text
      nullable: true
down:
  - op: drop_column
    table: users
    column:
      name: %s
      type: text
      nullable: true
`, version, name, column, column)
}

func TestAppInit(t *testing.T) {
	t.Parallel()

	tapp := newTestApp(t)
	require.NoError(t, tapp.Run("init", "--db-driver", "sqlite", "--db-dsn", "/app.db"))

	cfg := config.NewConfig(tapp.fs, "/config.json")
	require.NoError(t, cfg.Load())
	assert.Equal(t, "/app.db", cfg.Database.DSN.V)
	assert.True(t, cfg.Migrations.Safe.V)
	assert.Equal(t, "migrations", cfg.Migrations.Table.V)

	ok, err := tapp.drv.HasTable(t.Context(), "migrations")
	require.NoError(t, err)
	assert.True(t, ok)

	fi, err := tapp.fs.Stat("/migrations")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	err = tapp.Run("init")
	require.Error(t, err)
	assert.EqualError(t, err, "configuration file '/config.json' already exists")
	var rerr *aerrors.RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "Pass --force to overwrite it.", rerr.Hint)

	require.NoError(t, tapp.Run("init", "--force", "--unsafe"))
	cfg = config.NewConfig(tapp.fs, "/config.json")
	require.NoError(t, cfg.Load())
	assert.False(t, cfg.Migrations.Safe.V)
}

func TestAppMigrate(t *testing.T) {
	t.Parallel()

	tapp := newTestApp(t)
	tapp.writeFile(t, "/schema.yaml", declaredSchema)
	require.NoError(t, tapp.Run("init"))

	require.NoError(t, tapp.Run("generate", "create_tables", "-f", "/schema.yaml"))
	units, err := repository.NewFS(tapp.fs, "/migrations").Units(t.Context())
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "20250101000000_create_tables", units[0].ID())
	// Both tables are created before the foreign key is added.
	assert.Len(t, units[0].Up, 3)
	assert.Len(t, units[0].Down, 3)

	tapp.writeFile(t, "/migrations/20250102000000_add_bio.yaml", unitFile(20250102000000, "add_bio", "bio"))

	require.NoError(t, tapp.Run("status"))
	assert.Regexp(t, `20250101000000\s+create_tables\s+pending`, tapp.stdout.String())
	assert.Regexp(t, `20250102000000\s+add_bio\s+pending`, tapp.stdout.String())

	require.NoError(t, tapp.Run("up", "--steps", "1"))
	assert.Regexp(t, `20250101000000\s+create_tables\s+applied`, tapp.stdout.String())
	assert.Regexp(t, `20250102000000\s+add_bio\s+skipped`, tapp.stdout.String())

	require.NoError(t, tapp.Run("up"))
	assert.Regexp(t, `20250102000000\s+add_bio\s+applied`, tapp.stdout.String())

	users, err := tapp.drv.Introspect(t.Context(), "users")
	require.NoError(t, err)
	assert.True(t, users.HasColumn("bio"))
	posts, err := tapp.drv.Introspect(t.Context(), "posts")
	require.NoError(t, err)
	assert.Len(t, posts.ForeignKeys, 1)

	require.NoError(t, tapp.Run("status", "--pending"))
	assert.Empty(t, tapp.stdout.String())

	require.NoError(t, tapp.Run("down"))
	assert.Regexp(t, `20250102000000\s+add_bio\s+reverted`, tapp.stdout.String())
	users, err = tapp.drv.Introspect(t.Context(), "users")
	require.NoError(t, err)
	assert.False(t, users.HasColumn("bio"))

	// The structure matches the declared schema again.
	err = tapp.Run("generate", "noop", "-f", "/schema.yaml", "--dry-run")
	assert.EqualError(t, err, "database structure already matches '/schema.yaml'")

	require.NoError(t, tapp.Run("down", "--all"))
	assert.Regexp(t, `20250101000000\s+create_tables\s+reverted`, tapp.stdout.String())
	tables, err := tapp.drv.Tables(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations"}, tables)
}

func TestAppGenerate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		expStdout []string
		expErr    string
	}{
		{
			name:      "ok/dry_run_declared",
			args:      []string{"generate", "create_tables", "-f", "/schema.yaml", "--dry-run"},
			expStdout: []string{"version: 20250101000000", "name: create_tables", "op: create_table", "op: drop_table"},
		},
		{
			name:      "ok/dry_run_empty",
			args:      []string{"generate", "manual", "--dry-run"},
			expStdout: []string{"version: 20250101000000", "name: manual", "up: []", "down: []"},
		},
		{
			name:   "err/invalid_name",
			args:   []string{"generate", "add-users"},
			expErr: "failed saving migration",
		},
		{
			name:   "err/missing_schema",
			args:   []string{"generate", "users", "-f", "/missing.yaml"},
			expErr: "failed loading declared schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tapp := newTestApp(t)
			tapp.writeFile(t, "/schema.yaml", declaredSchema)

			err := tapp.Run(tt.args...)
			if tt.expErr != "" {
				assert.EqualError(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
			for _, exp := range tt.expStdout {
				assert.Contains(t, tapp.stdout.String(), exp)
			}
		})
	}
}

func TestAppMigrateErrors(t *testing.T) {
	t.Parallel()

	t.Run("err/unsafe", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		require.NoError(t, tapp.Run("init", "--unsafe"))
		tapp.writeFile(t, "/migrations/20250101000000_users.yaml", createUsersFile)

		err := tapp.Run("up")
		assert.EqualError(t, err, "refusing to migrate: environment in '/config.json' is marked as unsafe")

		require.NoError(t, tapp.Run("up", "--confirm"))
		assert.Contains(t, tapp.stdout.String(), "applied")
	})

	t.Run("err/execution", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		tapp.writeFile(t, "/migrations/20250101000000_users.yaml", createUsersFile)
		// The column already exists.
		tapp.writeFile(t, "/migrations/20250102000000_add_name.yaml", unitFile(20250102000000, "add_name", "name"))

		err := tapp.Run("up")
		require.Error(t, err)
		assert.EqualError(t, err, "migration 20250102000000_add_name failed")
		var rerr *aerrors.RuntimeError
		require.ErrorAs(t, err, &rerr)
		assert.Contains(t, rerr.Hint, "rolled back")
		assert.Regexp(t, `20250101000000\s+users\s+applied`, tapp.stdout.String())
		assert.Regexp(t, `20250102000000\s+add_name\s+failed`, tapp.stdout.String())

		require.NoError(t, tapp.Run("status"))
		assert.Regexp(t, `20250102000000\s+add_name\s+pending`, tapp.stdout.String())
	})

	t.Run("err/ordering_conflict", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		tapp.writeFile(t, "/migrations/20250101000000_users.yaml", createUsersFile)
		tapp.writeFile(t, "/migrations/20250103000000_add_bio.yaml", unitFile(20250103000000, "add_bio", "bio"))
		require.NoError(t, tapp.Run("up"))

		tapp.writeFile(t, "/migrations/20250102000000_add_email.yaml", unitFile(20250102000000, "add_email", "email"))
		err := tapp.Run("up")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ordering conflict")
		var rerr *aerrors.RuntimeError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "Pass --force to apply it anyway.", rerr.Hint)

		require.NoError(t, tapp.Run("up", "--force"))
		assert.Regexp(t, `20250102000000\s+add_email\s+applied`, tapp.stdout.String())
	})

	t.Run("err/down_steps", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		err := tapp.Run("down", "--steps", "0")
		assert.EqualError(t, err, "number of steps must be greater than 0")
	})
}

func TestAppEnv(t *testing.T) {
	t.Parallel()

	tapp := newTestApp(t)
	require.NoError(t, tapp.env.Set("SCHEMER_MIGRATIONS_DIR", "/db/migrations"))
	tapp.writeFile(t, "/db/migrations/20250101000000_users.yaml", createUsersFile)

	require.NoError(t, tapp.Run("status"))
	assert.Regexp(t, `20250101000000\s+users\s+pending`, tapp.stdout.String())
}

func TestAppCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	stderr := newSafeBuffer()
	tapp := newTestApp(t,
		WithContext(ctx),
		WithFDs(&bytes.Buffer{}, newSafeBuffer(),
			&cancelingWriter{Writer: stderr, match: []byte("applied unit"), cancel: cancel}),
		WithLogger(false),
	)
	tapp.writeFile(t, "/migrations/20250101000000_users.yaml", createUsersFile)
	tapp.writeFile(t, "/migrations/20250102000000_add_bio.yaml", unitFile(20250102000000, "add_bio", "bio"))

	err := tapp.Run("up")
	assert.EqualError(t, err, "migration run was interrupted")
	assert.Contains(t, stderr.String(), "run interrupted")

	users, err := tapp.drv.Introspect(t.Context(), "users")
	require.NoError(t, err)
	assert.True(t, users.Exists)
	assert.False(t, users.HasColumn("bio"))
}

const createUsersFile = `version: 20250101000000
name: users
up:
  - op: create_table
    table: users
    state:
      name: users
      columns:
        - name: id
          type: integer
        - name: name
          type: string
          size: 100
          nullable: true
      primary_key: [id]
down:
  - op: drop_table
    table: users
    state:
      name: users
      columns:
        - name: id
          type: integer
        - name: name
          type: string
          size: 100
          nullable: true
      primary_key: [id]
`
