package record

import (
	"errors"
	"fmt"
	"slices"

	"chaos-orm/internal/metadata"
)

var ErrUnknownField = errors.New("unknown field or relation")

// Schema is the part of the metadata registry needed to hydrate records.
type Schema interface {
	Entity(name string) (*metadata.Entity, error)
	Relation(entity, name string) (*metadata.Relation, error)
}

// FromMap converts a raw payload into a record of entity. Keys naming a
// relation are converted into attached records or collections of the
// relation's target; a null relation is left unset. A payload carrying
// its primary key is marked as existing.
func FromMap(s Schema, entity string, data map[string]any) (*Record, error) {
	ent, err := s.Entity(entity)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rec := New(entity, nil)
	for _, k := range keys {
		v := data[k]
		if k == ent.PrimaryKey.Field || ent.HasField(k) {
			rec.Set(k, v)
			continue
		}
		rel, err := s.Relation(entity, k)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, entity, k)
		}
		if v == nil {
			continue
		}
		related, err := hydrateRelated(s, rel, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", entity, k, err)
		}
		rec.Set(k, related)
	}
	rec.MarkExists(rec.Get(ent.PrimaryKey.Field) != nil)
	return rec, nil
}

func hydrateRelated(s Schema, rel *metadata.Relation, v any) (any, error) {
	if !rel.Many() {
		switch v := v.(type) {
		case map[string]any:
			return FromMap(s, rel.To(), v)
		case *Record:
			return v, nil
		}
		return nil, fmt.Errorf("expected an object, got %T", v)
	}

	var items []map[string]any
	switch v := v.(type) {
	case Collection:
		return v, nil
	case []map[string]any:
		items = v
	case []any:
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected a list of objects, got %T", item)
			}
			items = append(items, m)
		}
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}

	coll := make(Collection, 0, len(items))
	for _, item := range items {
		r, err := FromMap(s, rel.To(), item)
		if err != nil {
			return nil, err
		}
		coll = append(coll, r)
	}
	return coll, nil
}
