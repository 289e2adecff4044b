package sqlite_test

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/schemer/atomizer"
	"go.hackfix.me/schemer/driver/memory"
	"go.hackfix.me/schemer/driver/sqlite"
	"go.hackfix.me/schemer/driver/types"
	"go.hackfix.me/schemer/migrator"
	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/schema"
)

func memoryDSN(t *testing.T) string {
	t.Helper()
	// A unique name per test, to avoid clashing of in-memory SQLite DBs.
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)
	return fmt.Sprintf("file:schemer-%x?mode=memory&cache=shared", rndName)
}

func openTestDriver(t *testing.T) *sqlite.Driver {
	t.Helper()
	d, err := sqlite.Open(context.Background(), memoryDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func def(expr string) sql.Null[string] {
	return sql.Null[string]{V: expr, Valid: true}
}

func usersTable() schema.State {
	return schema.State{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "name", Type: schema.TypeString, Size: 100, Nullable: true},
			{Name: "score", Type: schema.TypeDecimal, Precision: 10, Scale: 2, Nullable: true},
			{Name: "status", Type: schema.TypeString, Size: 20, Default: def("'active'")},
		},
		PrimaryKey: []string{"id"},
	}
}

func postsTable() schema.State {
	return schema.State{
		Name: "posts",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "user_id", Type: schema.TypeInteger},
			{Name: "title", Type: schema.TypeText},
		},
		PrimaryKey: []string{"id"},
	}
}

var postsUserFK = schema.ForeignKey{
	Name: schema.ForeignKeyName("posts", "user_id"), Columns: []string{"user_id"},
	RefTable: "users", RefColumns: []string{"id"}, OnDelete: schema.ActionCascade,
}

var postsAuthorFK = schema.ForeignKey{
	Name: "fk_posts_user", Columns: []string{"user_id"},
	RefTable: "users", RefColumns: []string{"id"}, OnDelete: schema.ActionCascade,
}

func execute(ctx context.Context, d *sqlite.Driver, ops ...operation.Operation) error {
	tx, err := d.Begin(ctx)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err = tx.Execute(ctx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func TestDriverExecute(t *testing.T) {
	t.Parallel()

	setup := []operation.Operation{
		operation.CreateTable(usersTable()),
		operation.CreateTable(postsTable()),
		operation.AddIndex("users", schema.Index{Name: "users_name_index", Columns: []string{"name"}}),
	}

	tests := []struct {
		name string
		ops  []operation.Operation
	}{
		{name: "ok/setup"},
		{name: "ok/add_column", ops: []operation.Operation{
			operation.AddColumn("users", schema.Column{Name: "email", Type: schema.TypeString, Size: 255, Nullable: true}),
		}},
		{name: "ok/add_not_null_column", ops: []operation.Operation{
			operation.AddColumn("users", schema.Column{Name: "age", Type: schema.TypeSmallInt}),
		}},
		{name: "ok/drop_column", ops: []operation.Operation{
			operation.DropColumn("users", schema.Column{Name: "score", Type: schema.TypeDecimal}),
		}},
		{name: "ok/rename_indexed_column", ops: []operation.Operation{
			operation.RenameColumn("users", "name", "full_name"),
		}},
		{name: "ok/alter_column", ops: []operation.Operation{
			operation.AlterColumn("users",
				usersTable().Columns[1],
				schema.Column{Name: "name", Type: schema.TypeString, Size: 200, Nullable: true}),
		}},
		{name: "ok/drop_index", ops: []operation.Operation{
			operation.DropIndex("users", schema.Index{Name: "users_name_index", Columns: []string{"name"}}),
		}},
		{name: "ok/unique_index", ops: []operation.Operation{
			operation.AddIndex("posts", schema.Index{Name: "posts_title_index", Columns: []string{"title"}, Unique: true}),
		}},
		{name: "ok/foreign_key", ops: []operation.Operation{
			operation.AddForeignKey("posts", postsUserFK),
		}},
		{name: "ok/foreign_key_custom_name", ops: []operation.Operation{
			operation.AddForeignKey("posts", postsAuthorFK),
		}},
		{name: "ok/foreign_key_custom_name_renamed_column", ops: []operation.Operation{
			operation.AddForeignKey("posts", postsAuthorFK),
			operation.RenameColumn("posts", "user_id", "author_id"),
			operation.AddColumn("posts", schema.Column{Name: "views", Type: schema.TypeInteger, Nullable: true}),
		}},
		{name: "ok/foreign_key_custom_name_dropped", ops: []operation.Operation{
			operation.AddForeignKey("posts", postsAuthorFK),
			operation.DropForeignKey("posts", postsAuthorFK),
		}},
		{name: "ok/foreign_key_dropped", ops: []operation.Operation{
			operation.AddForeignKey("posts", postsUserFK),
			operation.DropForeignKey("posts", postsUserFK),
		}},
		{name: "ok/primary_key", ops: []operation.Operation{
			operation.SetPrimaryKey("posts", []string{"id"}, []string{"id", "user_id"}),
		}},
		{name: "ok/drop_table", ops: []operation.Operation{
			operation.DropTable(postsTable()),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := openTestDriver(t)
			ctx := context.Background()

			ops := append(setup[:len(setup):len(setup)], tt.ops...)
			require.NoError(t, execute(ctx, d, ops...))

			exp := map[string]schema.State{}
			_, err := operation.ApplyAll(exp, ops)
			require.NoError(t, err)

			tables, err := d.Tables(ctx)
			require.NoError(t, err)
			assert.Len(t, tables, len(exp))

			for name, expSt := range exp {
				st, err := d.Introspect(ctx, name)
				require.NoError(t, err)
				assert.True(t, st.Exists)
				assert.Truef(t, expSt.Equal(st), "table %s:\nexpected: %+v\nactual:   %+v", name, expSt, st)
			}
		})
	}
}

func TestDriverForeignKeyNames(t *testing.T) {
	t.Parallel()

	d := openTestDriver(t)
	ctx := context.Background()

	posts := postsTable()
	posts.ForeignKeys = []schema.ForeignKey{postsAuthorFK}
	a := atomizer.New()
	require.NoError(t, a.Add(schema.Compare(schema.NewState("users"), usersTable())))
	require.NoError(t, a.Add(schema.Compare(schema.NewState("posts"), posts)))
	ops, err := a.Declare()
	require.NoError(t, err)
	require.NoError(t, execute(ctx, d, ops...))

	live, err := d.Introspect(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, live.ForeignKeys, 1)
	assert.Equal(t, "fk_posts_user", live.ForeignKeys[0].Name)

	declared := posts.Clone()
	declared.Exists = true
	assert.False(t, schema.Compare(live, declared).HasChanges())

	// A rebuild keeps the constraint name.
	require.NoError(t, execute(ctx, d, operation.AlterColumn("posts",
		posts.Columns[2], schema.Column{Name: "title", Type: schema.TypeText, Nullable: true})))
	live, err = d.Introspect(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, live.ForeignKeys, 1)
	assert.Equal(t, "fk_posts_user", live.ForeignKeys[0].Name)
}

func TestDriverIntrospectMissing(t *testing.T) {
	t.Parallel()

	d := openTestDriver(t)
	st, err := d.Introspect(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Equal(t, "nope", st.Name)
	assert.Empty(t, st.Columns)
}

func TestDriverRebuildData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	name := usersTable().Columns[1]

	t.Run("ok/preserved", func(t *testing.T) {
		t.Parallel()

		d := openTestDriver(t)
		require.NoError(t, execute(ctx, d, operation.CreateTable(usersTable())))
		_, err := d.DB().ExecContext(ctx, `INSERT INTO users (id, name) VALUES (1, 'alice'), (2, NULL)`)
		require.NoError(t, err)

		notNull := name
		notNull.Nullable = false
		notNull.Default = def("'anonymous'")
		require.NoError(t, execute(ctx, d, operation.AlterColumn("users", name, notNull)))

		rows, err := d.DB().QueryContext(ctx, `SELECT name, status FROM users ORDER BY id`)
		require.NoError(t, err)
		defer rows.Close()
		var got []string
		for rows.Next() {
			var n, s string
			require.NoError(t, rows.Scan(&n, &s))
			got = append(got, n+"/"+s)
		}
		require.NoError(t, rows.Err())
		assert.Equal(t, []string{"alice/active", "anonymous/active"}, got)
	})

	t.Run("err/not_null", func(t *testing.T) {
		t.Parallel()

		d := openTestDriver(t)
		require.NoError(t, execute(ctx, d, operation.CreateTable(usersTable())))
		_, err := d.DB().ExecContext(ctx, `INSERT INTO users (id, name) VALUES (1, NULL)`)
		require.NoError(t, err)

		notNull := name
		notNull.Nullable = false
		err = execute(ctx, d, operation.AlterColumn("users", name, notNull))
		var intErr *types.IntegrityError
		require.ErrorAs(t, err, &intErr)

		st, err := d.Introspect(ctx, "users")
		require.NoError(t, err)
		assert.True(t, usersTable().Equal(st))
	})

	t.Run("err/foreign_key_violation", func(t *testing.T) {
		t.Parallel()

		d := openTestDriver(t)
		require.NoError(t, execute(ctx, d,
			operation.CreateTable(usersTable()), operation.CreateTable(postsTable())))
		_, err := d.DB().ExecContext(ctx, `INSERT INTO posts (id, user_id, title) VALUES (1, 42, 'orphan')`)
		require.NoError(t, err)

		err = execute(ctx, d, operation.AddForeignKey("posts", postsUserFK))
		var intErr *types.IntegrityError
		require.ErrorAs(t, err, &intErr)
		assert.Contains(t, intErr.Msg, "references a missing row in 'users'")

		st, err := d.Introspect(ctx, "posts")
		require.NoError(t, err)
		assert.Empty(t, st.ForeignKeys)
	})

	t.Run("err/missing_referenced_table", func(t *testing.T) {
		t.Parallel()

		d := openTestDriver(t)
		require.NoError(t, execute(ctx, d, operation.CreateTable(postsTable())))
		err := execute(ctx, d, operation.AddForeignKey("posts", postsUserFK))
		assert.EqualError(t, err, "referenced table 'users' doesn't exist")
	})
}

func TestDriverRecords(t *testing.T) {
	t.Parallel()

	d := openTestDriver(t)
	ctx := context.Background()
	appliedAt := time.Date(2025, 1, 1, 12, 30, 0, 0, time.UTC)

	require.NoError(t, execute(ctx, d, operation.CreateTable(migrator.StateTable("migrations"))))

	tx, err := d.Begin(ctx)
	require.NoError(t, err)
	for _, v := range []uint64{20250102000000, 20250101000000} {
		require.NoError(t, tx.InsertRecord(ctx, "migrations", types.Record{
			Version: v, Name: fmt.Sprintf("unit_%d", v), Checksum: "abc", AppliedAt: appliedAt,
		}))
	}
	require.NoError(t, tx.Commit())

	recs, err := d.Records(ctx, "migrations")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(20250101000000), recs[0].Version)
	assert.Equal(t, "unit_20250101000000", recs[0].Name)
	assert.Equal(t, "abc", recs[0].Checksum)
	assert.True(t, appliedAt.Equal(recs[0].AppliedAt))

	tx, err = d.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteRecord(ctx, "migrations", 20250101000000))
	assert.EqualError(t, tx.DeleteRecord(ctx, "migrations", 1), "record with version 1 doesn't exist")
	require.NoError(t, tx.Rollback())

	recs, err = d.Records(ctx, "migrations")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDriverLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("ok/memory", func(t *testing.T) {
		t.Parallel()

		dsn := memoryDSN(t)
		d1, err := sqlite.Open(ctx, dsn)
		require.NoError(t, err)
		defer d1.Close()
		d2, err := sqlite.Open(ctx, dsn)
		require.NoError(t, err)
		defer d2.Close()

		release, err := d1.Lock(ctx, "migrations")
		require.NoError(t, err)

		_, err = d2.Lock(ctx, "migrations")
		assert.ErrorIs(t, err, types.ErrLockHeld)

		require.NoError(t, release())
		release, err = d2.Lock(ctx, "migrations")
		require.NoError(t, err)
		require.NoError(t, release())
	})

	t.Run("ok/file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "test.db")
		d1, err := sqlite.Open(ctx, path)
		require.NoError(t, err)
		defer d1.Close()
		d2, err := sqlite.Open(ctx, path, sqlite.WithLockTimeout(150*time.Millisecond))
		require.NoError(t, err)
		defer d2.Close()

		release, err := d1.Lock(ctx, "migrations")
		require.NoError(t, err)

		_, err = d2.Lock(ctx, "migrations")
		assert.ErrorIs(t, err, types.ErrLockHeld)

		require.NoError(t, release())
		release, err = d2.Lock(ctx, "migrations")
		require.NoError(t, err)
		require.NoError(t, release())
	})
}

// TestDriverMigrate runs the same declared changes against SQLite and the
// memory driver, and expects both to end up with the same structure.
func TestDriverMigrate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := openTestDriver(t)
	mem := memory.New()

	users := schema.CreateTable("users").
		Column("id", schema.TypeInteger).
		Column("email", schema.TypeString, schema.Size(255)).
		SetPrimaryKey("id").
		UniqueIndex("email")
	posts := schema.CreateTable("posts").
		Column("id", schema.TypeInteger).
		Column("user_id", schema.TypeInteger).
		Column("body", schema.TypeText, schema.Nullable()).
		SetPrimaryKey("id").
		References("user_id", "users", "id", schema.ActionCascade, "")

	a := atomizer.New()
	require.NoError(t, a.AddBlueprint(users))
	require.NoError(t, a.AddBlueprint(posts))
	up, err := a.Declare()
	require.NoError(t, err)
	down, err := a.Revert()
	require.NoError(t, err)

	unit := migrator.Unit{Version: 20250101000000, Name: "create_users_posts", Up: up, Down: down}

	for _, drv := range []types.Driver{d, mem} {
		repo := &testRepo{units: []migrator.Unit{unit}}
		m, err := migrator.New(drv, repo)
		require.NoError(t, err)

		report, err := m.Run(ctx, migrator.DirectionUp, migrator.RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, report.Count(migrator.OutcomeApplied))
	}

	for _, bp := range []*schema.Blueprint{users, posts} {
		st, err := d.Introspect(ctx, bp.Name())
		require.NoError(t, err)
		assert.Truef(t, bp.After().Equal(st), "table %s: %+v", bp.Name(), st)

		memSt, err := mem.Introspect(ctx, bp.Name())
		require.NoError(t, err)
		assert.True(t, memSt.Equal(st))
	}

	// Cascading deletes are enforced by SQLite itself, outside the migration
	// connection. Check that the constraint was created as declared.
	st, err := d.Introspect(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, st.ForeignKeys, 1)
	assert.Equal(t, schema.ActionCascade, st.ForeignKeys[0].OnDelete)

	m, err := migrator.New(d, &testRepo{units: []migrator.Unit{unit}})
	require.NoError(t, err)
	_, err = m.Run(ctx, migrator.DirectionDown, migrator.RunOptions{})
	require.NoError(t, err)

	tables, err := d.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations"}, tables)
}

type testRepo struct {
	units []migrator.Unit
}

func (r *testRepo) Units(_ context.Context) ([]migrator.Unit, error) {
	return r.units, nil
}

func (r *testRepo) Register(_ context.Context, unit migrator.Unit) error {
	r.units = append(r.units, unit)
	return nil
}
