package operation_test

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/schema"
)

func users() schema.State {
	return schema.State{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "email", Type: schema.TypeString, Size: 255},
		},
		PrimaryKey: []string{"id"},
		Indexes:    []schema.Index{{Name: "users_email_index", Columns: []string{"email"}, Unique: true}},
	}
}

func posts() schema.State {
	return schema.State{
		Name: "posts",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "user_id", Type: schema.TypeInteger},
		},
		PrimaryKey: []string{"id"},
		ForeignKeys: []schema.ForeignKey{{
			Name: "posts_user_id_fk", Columns: []string{"user_id"},
			RefTable: "users", RefColumns: []string{"id"},
		}},
	}
}

func states() map[string]schema.State {
	u, p := users(), posts()
	u.Exists, p.Exists = true, true
	return map[string]schema.State{"users": u, "posts": p}
}

func TestInvert(t *testing.T) {
	t.Parallel()

	email := schema.Column{Name: "email", Type: schema.TypeString, Size: 255}
	emailNull := email
	emailNull.Nullable = true
	fk := posts().ForeignKeys[0]
	idx := users().Indexes[0]

	tests := []struct {
		name string
		op   operation.Operation
		exp  operation.Operation
	}{
		{
			name: "ok/create_table",
			op:   operation.CreateTable(users()),
			exp:  operation.DropTable(users()),
		},
		{
			name: "ok/add_column",
			op:   operation.AddColumn("users", email),
			exp:  operation.DropColumn("users", email),
		},
		{
			name: "ok/alter_column",
			op:   operation.AlterColumn("users", email, emailNull),
			exp:  operation.AlterColumn("users", emailNull, email),
		},
		{
			name: "ok/rename_column",
			op:   operation.RenameColumn("users", "email", "mail"),
			exp:  operation.RenameColumn("users", "mail", "email"),
		},
		{
			name: "ok/drop_index",
			op:   operation.DropIndex("users", idx),
			exp:  operation.AddIndex("users", idx),
		},
		{
			name: "ok/add_foreign_key",
			op:   operation.AddForeignKey("posts", fk),
			exp:  operation.DropForeignKey("posts", fk),
		},
		{
			name: "ok/set_primary_key",
			op:   operation.SetPrimaryKey("users", []string{"id"}, nil),
			exp:  operation.SetPrimaryKey("users", nil, []string{"id"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.exp, tt.op.Invert())
			assert.Equal(t, tt.op, tt.op.Invert().Invert())
		})
	}
}

func TestCreateTableStripsConstraints(t *testing.T) {
	t.Parallel()

	s := posts()
	s.Exists = true
	op := operation.CreateTable(s)
	require.NotNil(t, op.State)
	assert.Empty(t, op.State.ForeignKeys)
	assert.Empty(t, op.State.Indexes)
	assert.False(t, op.State.Exists)
	assert.Len(t, s.ForeignKeys, 1)
}

func TestApply(t *testing.T) {
	t.Parallel()

	name := schema.Column{Name: "name", Type: schema.TypeText, Nullable: true}

	tests := []struct {
		name   string
		op     operation.Operation
		expErr string
		check  func(t *testing.T, st map[string]schema.State)
	}{
		{
			name: "ok/create_table",
			op:   operation.CreateTable(schema.State{Name: "tags", Columns: []schema.Column{{Name: "id", Type: schema.TypeInteger}}}),
			check: func(t *testing.T, st map[string]schema.State) {
				assert.True(t, st["tags"].Exists)
			},
		},
		{
			name: "ok/add_column",
			op:   operation.AddColumn("users", name),
			check: func(t *testing.T, st map[string]schema.State) {
				assert.Equal(t, []string{"id", "email", "name"}, st["users"].ColumnNames())
			},
		},
		{
			name: "ok/rename_referenced_column",
			op:   operation.RenameColumn("users", "id", "user_id"),
			check: func(t *testing.T, st map[string]schema.State) {
				assert.Equal(t, []string{"user_id"}, st["users"].PrimaryKey)
				assert.Equal(t, []string{"user_id"}, st["posts"].ForeignKeys[0].RefColumns)
			},
		},
		{
			name: "ok/set_primary_key",
			op:   operation.SetPrimaryKey("users", []string{"id"}, []string{"id", "email"}),
			check: func(t *testing.T, st map[string]schema.State) {
				assert.Equal(t, []string{"id", "email"}, st["users"].PrimaryKey)
			},
		},
		{
			name: "ok/drop_foreign_key",
			op:   operation.DropForeignKey("posts", posts().ForeignKeys[0]),
			check: func(t *testing.T, st map[string]schema.State) {
				assert.Empty(t, st["posts"].ForeignKeys)
			},
		},
		{
			name:   "err/create_existing_table",
			op:     operation.CreateTable(users()),
			expErr: "cannot create table 'users': table already exists",
		},
		{
			name:   "err/drop_referenced_table",
			op:     operation.DropTable(users()),
			expErr: "referenced by foreign key 'posts_user_id_fk' of table 'posts'",
		},
		{
			name:   "err/drop_indexed_column",
			op:     operation.DropColumn("users", users().Columns[1]),
			expErr: "column is used by index 'users_email_index'",
		},
		{
			name:   "err/drop_primary_key_column",
			op:     operation.DropColumn("posts", posts().Columns[0]),
			expErr: "column is part of the primary key",
		},
		{
			name:   "err/drop_foreign_key_column",
			op:     operation.DropColumn("posts", posts().Columns[1]),
			expErr: "column is used by foreign key 'posts_user_id_fk'",
		},
		{
			name:   "err/add_existing_column",
			op:     operation.AddColumn("users", users().Columns[1]),
			expErr: "column already exists",
		},
		{
			name:   "err/alter_missing_column",
			op:     operation.AlterColumn("users", name, name),
			expErr: "cannot alter column 'users.name'",
		},
		{
			name: "err/foreign_key_missing_table",
			op: operation.AddForeignKey("posts", schema.ForeignKey{
				Name: "fk", Columns: []string{"user_id"}, RefTable: "accounts", RefColumns: []string{"id"},
			}),
			expErr: "referenced table 'accounts' doesn't exist",
		},
		{
			name:   "err/unknown_table",
			op:     operation.AddColumn("comments", name),
			expErr: "cannot add column comments.name: table 'comments' doesn't exist",
		},
		{
			name:   "err/invalid_primary_key",
			op:     operation.SetPrimaryKey("users", nil, []string{"uuid"}),
			expErr: "primary key column 'uuid' doesn't exist",
		},
		{
			name:   "err/missing_payload",
			op:     operation.Operation{Kind: operation.KindAddIndex, Table: "users"},
			expErr: "'index' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := states()
			err := operation.Apply(st, tt.op)
			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				// Failed operations leave the states untouched.
				assert.True(t, st["users"].Equal(states()["users"]))
				assert.True(t, st["posts"].Equal(states()["posts"]))
				return
			}
			require.NoError(t, err)
			tt.check(t, st)
		})
	}
}

func TestApplyInverseRestores(t *testing.T) {
	t.Parallel()

	email := users().Columns[1]
	emailText := schema.Column{Name: "email", Type: schema.TypeText, Default: sql.Null[string]{V: "''", Valid: true}}

	ops := []operation.Operation{
		operation.DropForeignKey("posts", posts().ForeignKeys[0]),
		operation.DropIndex("users", users().Indexes[0]),
		operation.AlterColumn("users", email, emailText),
		operation.RenameColumn("users", "email", "address"),
		operation.DropTable(posts()),
	}

	st := states()
	i, err := operation.ApplyAll(st, ops)
	require.NoError(t, err)
	assert.Equal(t, -1, i)
	assert.NotContains(t, st, "posts")

	_, err = operation.ApplyAll(st, operation.Invert(ops))
	require.NoError(t, err)
	assert.True(t, st["users"].Equal(users()))
	assert.True(t, st["posts"].Equal(posts()))
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "create table users", operation.CreateTable(users()).String())
	assert.Equal(t, "alter column users.email",
		operation.AlterColumn("users", users().Columns[1], users().Columns[1]).String())
	assert.Equal(t, "drop index users_email_index on users(email)",
		operation.DropIndex("users", users().Indexes[0]).String())
	assert.Equal(t, "add foreign key posts_user_id_fk on posts(user_id) -> users(id)",
		operation.AddForeignKey("posts", posts().ForeignKeys[0]).String())
	assert.Equal(t, "set primary key of users to ()",
		operation.SetPrimaryKey("users", []string{"id"}, nil).String())
}

func TestYAML(t *testing.T) {
	t.Parallel()

	ops := []operation.Operation{
		operation.CreateTable(users()),
		operation.AlterColumn("users", users().Columns[1], schema.Column{Name: "email", Type: schema.TypeText, Nullable: true}),
		operation.AddForeignKey("posts", posts().ForeignKeys[0]),
		operation.SetPrimaryKey("users", nil, []string{"id"}),
	}
	out, err := yaml.Marshal(ops)
	require.NoError(t, err)
	assert.Contains(t, string(out), "op: alter_column")
	assert.Contains(t, string(out), "ref_table: users")

	var decoded []operation.Operation
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	require.NoError(t, operation.ValidateAll(decoded))
	require.Len(t, decoded, len(ops))
	assert.True(t, decoded[0].State.Equal(*ops[0].State))
	assert.Equal(t, *ops[1].Column, *decoded[1].Column)
	assert.Equal(t, *ops[2].ForeignKey, *decoded[2].ForeignKey)
	assert.Equal(t, []string{"id"}, decoded[3].PrimaryKey)
	assert.Empty(t, decoded[3].PreviousPrimaryKey)
}
