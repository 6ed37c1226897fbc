package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chaos-orm/internal/conventions"
	"chaos-orm/internal/dialect"
	"chaos-orm/internal/metadata"
)

const labels = `
entities:
  - name: label
    fields:
      - {name: name, type: string, length: 40, required: true, unique: true}
      - {name: active, type: boolean, default: true}
      - {name: created_at, type: timestamp, auto: create}
`

func openSQLite(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	d, err := dialect.New(dialect.SQLite)
	require.NoError(t, err)
	return NewWithDB(db, d)
}

func labelRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	entities, err := metadata.Parse([]byte(labels))
	require.NoError(t, err)
	reg := metadata.NewRegistry()
	require.NoError(t, reg.Load(entities, conventions.New()))
	return reg
}

func TestCreateStatement(t *testing.T) {
	reg := gallery(t)
	pg, err := dialect.New(dialect.Postgres)
	require.NoError(t, err)

	got, err := CreateStatement(pg, reg.GetEntity("gallery")).SQL()
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "gallery" ("id" SERIAL, "name" VARCHAR(255) NOT NULL, PRIMARY KEY ("id"))`, got)

	uuidPK := &metadata.Entity{
		Name:       "token",
		Table:      "token",
		PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid"},
		Fields:     []metadata.Field{{Name: "value", Type: "text", Unique: true}},
	}
	got, err = CreateStatement(pg, uuidPK).SQL()
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "token" ("id" UUID NOT NULL, "value" TEXT, PRIMARY KEY ("id"), CONSTRAINT "uq_token_value" UNIQUE ("value"))`, got)
}

func TestMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	reg := labelRegistry(t)
	m := NewMigrator(s)

	require.NoError(t, m.MigrateAll(ctx, reg))
	// A second run finds every column in place.
	require.NoError(t, m.MigrateAll(ctx, reg))

	table, err := s.Table(reg, "label")
	require.NoError(t, err)

	art := table.Create(map[string]any{"name": "Art"})
	require.NoError(t, table.Save(ctx, art))
	assert.True(t, art.Exists())
	assert.EqualValues(t, 1, art.Get("id"))
	assert.Equal(t, true, art.Get("active"))

	dup := table.Create(map[string]any{"name": "Art"})
	err = table.Save(ctx, dup)
	require.ErrorIs(t, err, ErrUniqueViolation)

	art.Set("active", false)
	require.NoError(t, table.Save(ctx, art))

	coll, err := table.Fetch(ctx, Query{Conditions: dialect.M("name", "Art")})
	require.NoError(t, err)
	require.Len(t, coll, 1)
	assert.Equal(t, false, coll[0].Get("active"))

	n, err := table.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, table.Delete(ctx, coll[0]))
	n, err = table.Count(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrateAddsMissingColumns(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	_, err := s.DB.ExecContext(ctx, `CREATE TABLE "label" ("id" INTEGER PRIMARY KEY, "name" TEXT)`)
	require.NoError(t, err)

	reg := labelRegistry(t)
	require.NoError(t, NewMigrator(s).Migrate(ctx, reg.GetEntity("label")))

	rows, err := s.DB.QueryContext(ctx, `SELECT * FROM "label"`)
	require.NoError(t, err)
	defer rows.Close()
	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "active", "created_at"}, cols)
}
