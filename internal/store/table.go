package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
)

// Query describes one fetch against a table. Conditions and Constraints
// are condition trees combined with AND; no Fields means every column.
type Query struct {
	Conditions  any
	Constraints any
	Fields      []string
	Order       any
	Limit       int
	Offset      int
}

// Table reads and writes the rows of one entity. Every statement is built
// with the dialect and bound with placeholders.
type Table struct {
	q      Querier
	d      *dialect.Dialect
	entity *metadata.Entity
}

func NewTable(q Querier, d *dialect.Dialect, entity *metadata.Entity) *Table {
	return &Table{q: q, d: d, entity: entity}
}

// Table returns the table of the named entity on the store connection.
func (s *Store) Table(reg *metadata.Registry, name string) (*Table, error) {
	entity, err := reg.Entity(name)
	if err != nil {
		return nil, err
	}
	return NewTable(s.DB, s.Dialect, entity), nil
}

func (t *Table) Entity() *metadata.Entity { return t.entity }

// Fetch returns the live rows matching q as existing records.
func (t *Table) Fetch(ctx context.Context, q Query) (record.Collection, error) {
	fields := q.Fields
	if len(fields) == 0 {
		fields = t.entity.FieldNames()
	}
	sel := t.d.Select().
		From(t.entity.Table).
		Fields(anys(fields)...).
		Where(q.Conditions, q.Constraints, t.live()).
		Order(q.Order).
		Limit(q.Limit, q.Offset)

	rows, err := QueryStatement(ctx, t.q, sel)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t.entity.Name, err)
	}
	NormalizeBooleans(rows, t.booleans())

	coll := make(record.Collection, 0, len(rows))
	for _, row := range rows {
		rec := record.New(t.entity.Name, nil)
		for _, f := range fields {
			if v, ok := row[f]; ok {
				rec.Set(f, v)
			}
		}
		rec.MarkExists(true)
		coll = append(coll, rec)
	}
	return coll, nil
}

// Count returns the number of live rows matching conditions.
func (t *Table) Count(ctx context.Context, conditions any) (int64, error) {
	sel := t.d.Select().
		From(t.entity.Table).
		Fields(dialect.Plain("COUNT(*) AS total")).
		Where(conditions, t.live())
	rows, err := QueryStatement(ctx, t.q, sel)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t.entity.Name, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	switch n := rows[0]["total"].(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("count %s: unexpected %T", t.entity.Name, rows[0]["total"])
}

// Update sets values on every live row matching conditions.
func (t *Table) Update(ctx context.Context, values map[string]any, conditions any) (int64, error) {
	upd := t.d.Update().Table(t.entity.Table).Values(values).Where(conditions, t.live())
	n, err := ExecStatement(ctx, t.q, upd)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", t.entity.Name, MapError(err))
	}
	return n, nil
}

// Remove deletes the rows matching conditions. Soft-delete entities get
// deleted_at set instead.
func (t *Table) Remove(ctx context.Context, conditions any) (int64, error) {
	var st dialect.Statement
	if t.entity.SoftDelete {
		st = t.d.Update().
			Table(t.entity.Table).
			Values(dialect.M("deleted_at", time.Now().UTC())).
			Where(conditions, t.live())
	} else {
		st = t.d.Delete().From(t.entity.Table).Where(conditions)
	}
	n, err := ExecStatement(ctx, t.q, st)
	if err != nil {
		return 0, fmt.Errorf("remove %s: %w", t.entity.Name, err)
	}
	return n, nil
}

// Create returns a new record holding attrs. Nothing is written.
func (t *Table) Create(attrs map[string]any) *record.Record {
	return record.New(t.entity.Name, attrs)
}

// Save inserts rec, or updates it by primary key when it exists. Inserted
// records receive their generated key.
func (t *Table) Save(ctx context.Context, rec *record.Record) error {
	if rec.Exists() {
		return t.update(ctx, rec)
	}
	return t.insert(ctx, rec)
}

// Delete removes rec by primary key.
func (t *Table) Delete(ctx context.Context, rec *record.Record) error {
	pk := t.entity.PrimaryKey.Field
	n, err := t.Remove(ctx, t.key(rec))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", t.entity.Name, rec.Get(pk), ErrNotFound)
	}
	rec.MarkExists(false)
	return nil
}

func (t *Table) insert(ctx context.Context, rec *record.Record) error {
	pk := t.entity.PrimaryKey
	now := time.Now().UTC()
	for _, f := range t.entity.Fields {
		if f.IsAuto() && rec.Get(f.Name) == nil {
			rec.Set(f.Name, now)
		}
	}
	if rec.Get(pk.Field) == nil && pk.Type == "uuid" {
		rec.Set(pk.Field, uuid.New().String())
	}

	values := t.values(rec, true)
	ins := t.d.Insert().Into(t.entity.Table).Values(values)

	if t.d.SupportsReturning() {
		ins.Returning(anys(t.entity.FieldNames())...)
		rows, err := QueryStatement(ctx, t.q, ins)
		if err != nil {
			return fmt.Errorf("insert %s: %w", t.entity.Name, MapError(err))
		}
		if len(rows) > 0 {
			NormalizeBooleans(rows, t.booleans())
			rec.Merge(rows[0])
		}
		rec.MarkExists(true)
		return nil
	}

	sqlStr, args, err := ins.Query()
	if err != nil {
		return err
	}
	result, err := t.q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", t.entity.Name, MapError(err))
	}
	if rec.Get(pk.Field) == nil {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert %s: last insert id: %w", t.entity.Name, err)
		}
		rec.Set(pk.Field, id)
	}
	rec.MarkExists(true)
	return nil
}

func (t *Table) update(ctx context.Context, rec *record.Record) error {
	for _, f := range t.entity.Fields {
		if f.Auto == "update" {
			rec.Set(f.Name, time.Now().UTC())
		}
	}
	values := t.values(rec, false)
	if len(values) == 0 {
		return nil
	}
	upd := t.d.Update().Table(t.entity.Table).Values(values).Where(t.key(rec), t.live())
	n, err := ExecStatement(ctx, t.q, upd)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.entity.Name, MapError(err))
	}
	// MySQL counts changed rows only, so an unchanged row reports 0.
	if n == 0 && t.d.Name() != dialect.MySQL {
		return fmt.Errorf("%s %v: %w", t.entity.Name, rec.Get(t.entity.PrimaryKey.Field), ErrNotFound)
	}
	return nil
}

// values collects the entity columns set on rec, in declaration order.
func (t *Table) values(rec *record.Record, withPK bool) dialect.Map {
	pk := t.entity.PrimaryKey.Field
	var out dialect.Map
	for _, name := range t.entity.FieldNames() {
		if name == pk && (!withPK || rec.Get(pk) == nil) {
			continue
		}
		if !rec.Has(name) {
			continue
		}
		f := t.entity.GetField(name)
		if f != nil && f.Auto == "create" && !withPK {
			continue
		}
		typ := t.entity.PrimaryKey.Type
		if f != nil {
			typ = f.Type
		}
		out = append(out, dialect.Pair{Key: name, Value: coerce(typ, rec.Get(name))})
	}
	return out
}

// key returns the primary key condition of rec.
func (t *Table) key(rec *record.Record) dialect.Map {
	pk := t.entity.PrimaryKey
	return dialect.M(pk.Field, coerce(pk.Type, rec.Get(pk.Field)))
}

// coerce converts decoded JSON values to what the column expects: whole
// numbers become integers and json values are encoded.
func coerce(typ string, v any) any {
	switch typ {
	case "", "serial", "int", "integer", "bigint":
		if f, ok := v.(float64); ok && f == math.Trunc(f) {
			return int64(f)
		}
	case "json":
		switch v.(type) {
		case nil, string, []byte:
			return v
		}
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return v
}

// live excludes soft-deleted rows.
func (t *Table) live() any {
	if !t.entity.SoftDelete {
		return nil
	}
	return dialect.M("deleted_at", nil)
}

func (t *Table) booleans() []string {
	if t.d.Name() != dialect.SQLite {
		return nil
	}
	var out []string
	for _, f := range t.entity.Fields {
		if f.Type == "boolean" {
			out = append(out, f.Name)
		}
	}
	return out
}

func anys(fields []string) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = f
	}
	return out
}
