package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/metadata"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// Migrate ensures the table of entity exists and carries every column.
// Creates the table if it doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, entity *metadata.Entity) error {
	existing, err := m.columns(ctx, entity.Table)
	if err != nil {
		return m.createTable(ctx, entity)
	}
	return m.alterTable(ctx, entity, existing)
}

// MigrateAll migrates every registered entity in name order.
func (m *Migrator) MigrateAll(ctx context.Context, reg *metadata.Registry) error {
	for _, entity := range reg.AllEntities() {
		if err := m.Migrate(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// CreateStatement returns the CREATE TABLE statement for entity.
func (m *Migrator) CreateStatement(entity *metadata.Entity) *dialect.CreateTable {
	return CreateStatement(m.store.Dialect, entity)
}

// CreateStatement builds the CREATE TABLE IF NOT EXISTS statement of entity
// in d. Unique fields become table constraints; a non-serial primary key
// gets an explicit primary constraint.
func CreateStatement(d *dialect.Dialect, entity *metadata.Entity) *dialect.CreateTable {
	ct := d.CreateTable().Table(entity.Table).IfNotExists(true)
	pk := entity.PrimaryKey.Field
	serial := false
	for _, f := range entity.Columns() {
		col := f.Column()
		if f.Name == pk {
			col.NotNull = true
			serial = strings.EqualFold(col.Type, "serial")
		}
		ct.Columns(col)
	}
	if pk != "" && !serial {
		ct.Constraint(dialect.Constraint{Type: "primary", Columns: []string{pk}})
	}
	for _, f := range entity.Columns() {
		if f.Unique && f.Name != pk {
			ct.Constraint(dialect.Constraint{
				Type:    "unique",
				Name:    fmt.Sprintf("uq_%s_%s", entity.Table, f.Name),
				Columns: []string{f.Name},
			})
		}
	}
	return ct
}

func (m *Migrator) createTable(ctx context.Context, entity *metadata.Entity) error {
	sqlStr, err := m.CreateStatement(entity).SQL()
	if err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}
	if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}
	slog.InfoContext(ctx, "created table", "table", entity.Table)
	return nil
}

func (m *Migrator) alterTable(ctx context.Context, entity *metadata.Entity, existing map[string]bool) error {
	d := m.store.Dialect
	for _, f := range entity.Columns() {
		if existing[f.Name] {
			continue
		}
		col := f.Column()
		def := d.Quote(col.Name) + " " + d.ColumnType(col)
		if col.Default != nil {
			lit, err := d.Literal(col.Default)
			if err != nil {
				return fmt.Errorf("add column %s.%s: %w", entity.Table, f.Name, err)
			}
			def += " DEFAULT " + lit
			if col.NotNull {
				def += " NOT NULL"
			}
		}
		sqlStr := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(entity.Table), def)
		if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("add column %s.%s: %w", entity.Table, f.Name, err)
		}
		slog.InfoContext(ctx, "added column", "table", entity.Table, "column", f.Name)
	}
	return nil
}

// columns lists the columns of table. It fails when the table is missing.
func (m *Migrator) columns(ctx context.Context, table string) (map[string]bool, error) {
	sqlStr, err := m.store.Dialect.Select().From(table).Limit(1).SQL()
	if err != nil {
		return nil, err
	}
	rows, err := m.store.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cols := make(map[string]bool, len(names))
	for _, n := range names {
		cols[n] = true
	}
	return cols, nil
}
