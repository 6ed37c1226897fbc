package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"chaos-orm/internal/conventions"
	"chaos-orm/internal/dialect"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
)

// memory is an in-memory set of tables. It understands equality and IN
// conditions, which is all the relationship engine emits.
type memory struct {
	reg     *metadata.Registry
	tables  map[string]*memTable
	fetches []fetch
}

type fetch struct {
	Entity string
	Query  Query
}

func newMemory(reg *metadata.Registry) *memory {
	return &memory{reg: reg, tables: make(map[string]*memTable)}
}

func (m *memory) Source(entity string) (Source, error) {
	e, err := m.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	t, ok := m.tables[entity]
	if !ok {
		t = &memTable{mem: m, entity: e}
		m.tables[entity] = t
	}
	return t, nil
}

// seed stores rows for entity, in order.
func (m *memory) seed(t *testing.T, entity string, rows ...map[string]any) {
	t.Helper()
	src, err := m.Source(entity)
	require.NoError(t, err)
	table := src.(*memTable)
	for _, row := range rows {
		table.rows = append(table.rows, table.clean(record.New(entity, row)))
		if id, ok := row[table.entity.PrimaryKey.Field].(int); ok && id > table.next {
			table.next = id
		}
	}
}

func (m *memory) table(entity string) *memTable {
	src, _ := m.Source(entity)
	return src.(*memTable)
}

func (m *memory) fetched(entity string) []Query {
	var out []Query
	for _, f := range m.fetches {
		if f.Entity == entity {
			out = append(out, f.Query)
		}
	}
	return out
}

type memTable struct {
	mem    *memory
	entity *metadata.Entity
	rows   []*record.Record
	next   int
	fail   error
}

func (t *memTable) Fetch(_ context.Context, q Query) (record.Collection, error) {
	t.mem.fetches = append(t.mem.fetches, fetch{Entity: t.entity.Name, Query: q})
	out := record.Collection{}
	for _, row := range t.rows {
		if matches(row, q.Conditions) && matches(row, q.Constraints) {
			rec := t.clean(row)
			rec.MarkExists(true)
			out = append(out, rec)
		}
	}
	return out, nil
}

func (t *memTable) Count(_ context.Context, conditions any) (int64, error) {
	var n int64
	for _, row := range t.rows {
		if matches(row, conditions) {
			n++
		}
	}
	return n, nil
}

func (t *memTable) Update(_ context.Context, values map[string]any, conditions any) (int64, error) {
	var n int64
	for _, row := range t.rows {
		if matches(row, conditions) {
			row.Merge(values)
			n++
		}
	}
	return n, nil
}

func (t *memTable) Remove(_ context.Context, conditions any) (int64, error) {
	if t.fail != nil {
		return 0, t.fail
	}
	before := len(t.rows)
	t.rows = slices.DeleteFunc(t.rows, func(r *record.Record) bool { return matches(r, conditions) })
	return int64(before - len(t.rows)), nil
}

func (t *memTable) Create(attrs map[string]any) *record.Record {
	return record.New(t.entity.Name, attrs)
}

func (t *memTable) Save(_ context.Context, rec *record.Record) error {
	if t.fail != nil {
		return t.fail
	}
	pk := t.entity.PrimaryKey.Field
	if rec.Exists() {
		for _, row := range t.rows {
			if same(row.Get(pk), rec.Get(pk)) {
				row.Merge(t.clean(rec).Data())
				return nil
			}
		}
		return errors.New("row vanished")
	}
	if rec.Get(pk) == nil {
		t.next++
		rec.Set(pk, t.next)
	}
	t.rows = append(t.rows, t.clean(rec))
	rec.MarkExists(true)
	return nil
}

func (t *memTable) Delete(ctx context.Context, rec *record.Record) error {
	pk := t.entity.PrimaryKey.Field
	n, err := t.Remove(ctx, dialect.M(pk, rec.Get(pk)))
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("not found")
	}
	rec.MarkExists(false)
	return nil
}

// clean copies the column values of rec.
func (t *memTable) clean(rec *record.Record) *record.Record {
	out := record.New(t.entity.Name, nil)
	for _, name := range t.entity.FieldNames() {
		if rec.Has(name) {
			out.Set(name, rec.Get(name))
		}
	}
	return out
}

func (t *memTable) column(field string) []any {
	out := make([]any, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row.Get(field))
	}
	return out
}

func matches(rec *record.Record, cond any) bool {
	switch c := cond.(type) {
	case nil:
		return true
	case []any:
		for _, sub := range c {
			if !matches(rec, sub) {
				return false
			}
		}
		return true
	case dialect.Map:
		for _, p := range c {
			switch want := p.Value.(type) {
			case []any:
				if !slices.ContainsFunc(want, func(v any) bool { return same(rec.Get(p.Key), v) }) {
					return false
				}
			default:
				if !same(rec.Get(p.Key), want) {
					return false
				}
			}
		}
		return true
	}
	panic(fmt.Sprintf("memory: unsupported condition %T", cond))
}

func same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func loadGallery(t *testing.T) *metadata.Registry {
	t.Helper()
	entities, err := metadata.LoadFile("../metadata/testdata/gallery.yaml")
	require.NoError(t, err)
	reg := metadata.NewRegistry()
	require.NoError(t, reg.Load(entities, conventions.New()))
	return reg
}

// galleryFixture seeds two galleries, five images, six tags and the pivot
// rows joining them.
func galleryFixture(t *testing.T, reg *metadata.Registry) *memory {
	mem := newMemory(reg)
	mem.seed(t, "gallery",
		map[string]any{"id": 1, "name": "Foo Gallery"},
		map[string]any{"id": 2, "name": "Bar Gallery"},
	)
	mem.seed(t, "image",
		map[string]any{"id": 1, "gallery_id": 1, "name": "amiga_1200.jpg", "title": "Amiga 1200"},
		map[string]any{"id": 2, "gallery_id": 1, "name": "srinivasa_ramanujan.jpg", "title": "Srinivasa Ramanujan"},
		map[string]any{"id": 3, "gallery_id": 1, "name": "las_vegas.jpg", "title": "Las Vegas"},
		map[string]any{"id": 4, "gallery_id": 2, "name": "silicon_valley.jpg", "title": "Silicon Valley"},
		map[string]any{"id": 5, "gallery_id": 2, "name": "unknown.jpg", "title": "Unknown"},
	)
	mem.seed(t, "tag",
		map[string]any{"id": 1, "name": "High Tech"},
		map[string]any{"id": 2, "name": "Sport"},
		map[string]any{"id": 3, "name": "Computer"},
		map[string]any{"id": 4, "name": "Art"},
		map[string]any{"id": 5, "name": "Science"},
		map[string]any{"id": 6, "name": "City"},
	)
	mem.seed(t, "images_tags",
		map[string]any{"id": 1, "image_id": 1, "tag_id": 1},
		map[string]any{"id": 2, "image_id": 1, "tag_id": 3},
		map[string]any{"id": 3, "image_id": 2, "tag_id": 5},
		map[string]any{"id": 4, "image_id": 3, "tag_id": 6},
		map[string]any{"id": 5, "image_id": 4, "tag_id": 6},
		map[string]any{"id": 6, "image_id": 4, "tag_id": 3},
		map[string]any{"id": 7, "image_id": 4, "tag_id": 1},
	)
	return mem
}

func fetchAll(t *testing.T, mem *memory, entity string, conditions any) record.Collection {
	t.Helper()
	src, err := mem.Source(entity)
	require.NoError(t, err)
	coll, err := src.Fetch(context.Background(), Query{Conditions: conditions})
	require.NoError(t, err)
	mem.fetches = nil
	return coll
}
