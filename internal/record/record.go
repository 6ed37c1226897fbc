// Package record holds the single in-memory representation of an entity row
// shared by the loader, the writer and the stores.
package record

import (
	"encoding/json"
	"slices"
)

// Record is one row of an entity plus whatever related data has been
// attached to it. Field order is kept so rendering stays deterministic.
type Record struct {
	entity string
	fields map[string]any
	order  []string
	exists bool
}

// New returns a record for entity holding a copy of fields. Keys are added
// in sorted order.
func New(entity string, fields map[string]any) *Record {
	r := &Record{entity: entity, fields: make(map[string]any, len(fields))}
	r.Merge(fields)
	return r
}

func (r *Record) Entity() string { return r.entity }
func (r *Record) Exists() bool   { return r.exists }

// MarkExists flags the record as persisted (or not).
func (r *Record) MarkExists(exists bool) { r.exists = exists }

// Get returns the value of field, or nil.
func (r *Record) Get(field string) any { return r.fields[field] }

// Has reports whether field is set, even to nil.
func (r *Record) Has(field string) bool {
	_, ok := r.fields[field]
	return ok
}

// Attached reports whether related data is set under name. A nil record or
// collection counts as nothing attached; an empty collection does not.
func (r *Record) Attached(name string) bool {
	switch v := r.fields[name].(type) {
	case nil:
		return false
	case *Record:
		return v != nil
	case Collection:
		return v != nil
	}
	return true
}

func (r *Record) Set(field string, value any) {
	if _, ok := r.fields[field]; !ok {
		r.order = append(r.order, field)
	}
	r.fields[field] = value
}

func (r *Record) Unset(field string) {
	if _, ok := r.fields[field]; !ok {
		return
	}
	delete(r.fields, field)
	r.order = slices.DeleteFunc(r.order, func(f string) bool { return f == field })
}

// Merge sets every key of attrs, in sorted key order.
func (r *Record) Merge(attrs map[string]any) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		r.Set(k, attrs[k])
	}
}

// Fields returns the set field names in insertion order.
func (r *Record) Fields() []string {
	return slices.Clone(r.order)
}

// Related returns the collection attached under name, or nil.
func (r *Record) Related(name string) Collection {
	c, _ := r.fields[name].(Collection)
	return c
}

// One returns the record attached under name, or nil.
func (r *Record) One(name string) *Record {
	o, _ := r.fields[name].(*Record)
	return o
}

// Data returns the record as a plain map, converting attached records and
// collections recursively.
func (r *Record) Data() map[string]any {
	if r == nil {
		return nil
	}
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch v := v.(type) {
	case *Record:
		if v == nil {
			return nil
		}
		return v.Data()
	case Collection:
		return v.Data()
	}
	return v
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Data())
}

// Collection is an ordered list of records.
type Collection []*Record

// Data converts every record to a plain map. An empty collection yields an
// empty, non-nil slice.
func (c Collection) Data() []map[string]any {
	out := make([]map[string]any, 0, len(c))
	for _, r := range c {
		out = append(out, r.Data())
	}
	return out
}

// Values returns the non-nil values of field across the collection.
func (c Collection) Values(field string) []any {
	var out []any
	for _, r := range c {
		if v := r.Get(field); v != nil {
			out = append(out, v)
		}
	}
	return out
}

func (c Collection) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Data())
}
