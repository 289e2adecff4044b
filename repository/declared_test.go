package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/schemer/atomizer"
	"go.hackfix.me/schemer/driver/memory"
	"go.hackfix.me/schemer/operation"
	"go.hackfix.me/schemer/schema"
)

const declaredYAML = `tables:
  - name: users
    columns:
      - name: id
        type: integer
      - name: full_name
        type: string
        size: 200
        nullable: true
      - name: status
        type: string
        size: 20
        default: "'active'"
    primary_key: [id]
    indexes:
      - columns: [full_name]
    renames:
      - from: name
        to: full_name
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
        on_delete: cascade
drop: [legacy]
`

func TestLoadDeclared(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		data   string
		expErr string
	}{
		{name: "ok", data: declaredYAML},
		{
			name:   "err/missing_file",
			expErr: "failed reading schema file '/schema.yaml'",
		},
		{
			name:   "err/declared_and_dropped",
			data:   "tables:\n  - name: users\n    columns:\n      - name: id\n        type: integer\ndrop: [users]\n",
			expErr: "invalid schema file '/schema.yaml': table 'users' is both declared and dropped",
		},
		{
			name: "err/duplicate_table",
			data: "tables:\n  - name: users\n    columns:\n      - name: id\n        type: integer\n" +
				"  - name: users\n    columns:\n      - name: id\n        type: integer\n",
			expErr: "invalid schema file '/schema.yaml': table 'users' is declared more than once",
		},
		{
			name:   "err/unknown_type",
			data:   "tables:\n  - name: users\n    columns:\n      - name: id\n        type: serial\n",
			expErr: "unsupported column type 'serial'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := memoryfs.New()
			if tt.data != "" {
				require.NoError(t, vfs.WriteFile(fs, "/schema.yaml", []byte(tt.data), 0o600))
			}

			decl, err := LoadDeclared(fs, "/schema.yaml")
			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, decl.Tables, 2)
			assert.Equal(t, []schema.Rename{{From: "name", To: "full_name"}}, decl.Tables[0].Renames)
			assert.Equal(t, []string{"legacy"}, decl.Drop)
		})
	}
}

func TestDeclaredBlueprints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := memoryfs.New()
	require.NoError(t, vfs.WriteFile(fs, "/schema.yaml", []byte(declaredYAML), 0o600))
	decl, err := LoadDeclared(fs, "/schema.yaml")
	require.NoError(t, err)

	users := schema.State{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "name", Type: schema.TypeString, Size: 100, Nullable: true},
			{Name: "age", Type: schema.TypeInteger, Nullable: true},
			{Name: "status", Type: schema.TypeString, Size: 20},
		},
		Indexes:    []schema.Index{{Name: "users_age_index", Columns: []string{"age"}}},
		PrimaryKey: []string{"id"},
	}
	legacy := schema.State{
		Name:    "legacy",
		Columns: []schema.Column{{Name: "id", Type: schema.TypeInteger}},
	}
	drv := memory.New(users, legacy)

	bps, err := decl.Blueprints(ctx, drv)
	require.NoError(t, err)
	require.Len(t, bps, 3)

	d, err := bps[0].Diff()
	require.NoError(t, err)
	assert.Equal(t, []schema.Rename{{From: "name", To: "full_name"}}, d.RenamedColumns)
	require.Len(t, d.DroppedColumns, 1)
	assert.Equal(t, "age", d.DroppedColumns[0].Name)
	require.Len(t, d.AlteredColumns, 2)

	d, err = bps[1].Diff()
	require.NoError(t, err)
	assert.True(t, d.Created)

	d, err = bps[2].Diff()
	require.NoError(t, err)
	assert.True(t, d.Dropped)

	a := atomizer.New()
	for _, bp := range bps {
		require.NoError(t, a.AddBlueprint(bp))
	}
	ops, err := a.Declare()
	require.NoError(t, err)

	states := map[string]schema.State{"users": users, "legacy": legacy}
	_, err = operation.ApplyAll(states, ops)
	require.NoError(t, err)

	_, ok := states["legacy"]
	assert.False(t, ok)

	expUsers := schema.State{
		Name: "users",
		Columns: []schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "full_name", Type: schema.TypeString, Size: 200, Nullable: true},
			{Name: "status", Type: schema.TypeString, Size: 20,
				Default: sql.Null[string]{V: "'active'", Valid: true}},
		},
		Indexes:    []schema.Index{{Name: "users_full_name_index", Columns: []string{"full_name"}}},
		PrimaryKey: []string{"id"},
	}
	assert.Truef(t, expUsers.Equal(states["users"]), "%+v", states["users"])

	fk, ok := states["posts"].ForeignKey("posts_user_id_fk")
	require.True(t, ok)
	assert.Equal(t, schema.ActionCascade, fk.OnDelete.Normalize())

	// Declaring the resulting structure again is a no-op.
	drv = memory.New(states["users"], states["posts"])
	bps, err = decl.Blueprints(ctx, drv)
	require.NoError(t, err)
	a = atomizer.New()
	for _, bp := range bps {
		require.NoError(t, a.AddBlueprint(bp))
	}
	assert.True(t, a.Empty())
}
