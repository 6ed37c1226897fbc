package engine

import (
	"context"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
	"chaos-orm/internal/store"
)

// Query describes one fetch against a source.
type Query = store.Query

// Source fetches and mutates the rows of one entity. The store package
// provides the database implementation.
type Source interface {
	Fetch(ctx context.Context, q Query) (record.Collection, error)
	Count(ctx context.Context, conditions any) (int64, error)
	Update(ctx context.Context, values map[string]any, conditions any) (int64, error)
	Remove(ctx context.Context, conditions any) (int64, error)

	// Create builds a new, not yet persisted record.
	Create(attrs map[string]any) *record.Record
	// Save inserts a new record or updates an existing one by primary key.
	Save(ctx context.Context, rec *record.Record) error
	Delete(ctx context.Context, rec *record.Record) error
}

// Sources resolves the source of an entity.
type Sources interface {
	Source(entity string) (Source, error)
}

// SourcesFunc adapts a function to Sources.
type SourcesFunc func(entity string) (Source, error)

func (f SourcesFunc) Source(entity string) (Source, error) { return f(entity) }

// TableSources serves every registered entity from its store table on q.
// Pass a transaction as q to make a save atomic.
func TableSources(q store.Querier, d *dialect.Dialect, reg *metadata.Registry) Sources {
	return SourcesFunc(func(entity string) (Source, error) {
		e, err := reg.Entity(entity)
		if err != nil {
			return nil, err
		}
		return store.NewTable(q, d, e), nil
	})
}
