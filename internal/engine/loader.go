package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/instrument"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
)

// EmbedOptions narrows the fetch issued for the final hop of an embed.
// Fields, when set, replaces the relation's own projection; the join key
// is always fetched.
type EmbedOptions struct {
	Conditions any
	Order      any
	Fields     []string
}

// Loader attaches related records to collections, one fetch per hop.
type Loader struct {
	reg     *metadata.Registry
	sources Sources
}

func NewLoader(reg *metadata.Registry, sources Sources) *Loader {
	return &Loader{reg: reg, sources: sources}
}

// Embed loads the records related to coll through rel and attaches them to
// every parent under rel.Name(). Many relations always attach a
// collection, possibly empty; single relations attach a record or nil.
// It returns the records fetched for the last hop.
func (l *Loader) Embed(ctx context.Context, coll record.Collection, rel *metadata.Relation, opts EmbedOptions) (record.Collection, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "loader", "embed")
	defer span.End()
	span.SetEntity(rel.From(), "")
	span.SetMetadata("relation", rel.Name())

	var (
		fetched record.Collection
		err     error
	)
	if rel.Kind() == metadata.HasManyThrough {
		fetched, err = l.embedThrough(ctx, coll, rel, opts)
	} else {
		fetched, err = l.embedSingle(ctx, coll, rel, opts)
	}
	if err != nil {
		span.SetStatus("error")
		return nil, err
	}
	span.SetMetadata("fetched", len(fetched))
	span.SetStatus("ok")
	return fetched, nil
}

func (l *Loader) embedSingle(ctx context.Context, coll record.Collection, rel *metadata.Relation, opts EmbedOptions) (record.Collection, error) {
	switch rel.LinkType() {
	case metadata.LinkContained:
		return record.Collection{}, nil
	case metadata.LinkEmbedded:
		return embedded(coll, rel), nil
	}

	idx := NewIndex(coll, rel.FromKey())
	for _, parent := range coll {
		reset(parent, rel)
	}
	if idx.Len() == 0 {
		return record.Collection{}, nil
	}

	source, err := l.sources.Source(rel.To())
	if err != nil {
		return nil, err
	}
	fields := rel.Fields()
	if opts.Fields != nil {
		fields = opts.Fields
	}
	related, err := source.Fetch(ctx, Query{
		Conditions:  and(dialect.M(rel.ToKey(), idx.Keys()), opts.Conditions),
		Constraints: rel.Constraints(),
		Fields:      projection(fields, rel.ToKey()),
		Order:       opts.Order,
	})
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", rel, err)
	}

	for _, row := range related {
		positions := idx.Positions(row.Get(rel.ToKey()))
		if len(positions) == 0 {
			slog.DebugContext(ctx, "dropping orphaned related row", "relation", rel.String(), "key", row.Get(rel.ToKey()))
			continue
		}
		for _, pos := range positions {
			attach(coll[pos], rel, row)
		}
	}
	return related, nil
}

// embedThrough composes two single hops: parent to pivot, pivot to target.
// The through relation's constraints and fields narrow the target hop.
// Targets are attached in pivot order.
func (l *Loader) embedThrough(ctx context.Context, coll record.Collection, rel *metadata.Relation, opts EmbedOptions) (record.Collection, error) {
	relThrough, err := l.reg.Relation(rel.From(), rel.Through())
	if err != nil {
		return nil, err
	}
	relUsing, err := l.reg.Relation(relThrough.To(), rel.Using())
	if err != nil {
		return nil, err
	}

	pivots, err := l.embedSingle(ctx, coll, relThrough, EmbedOptions{})
	if err != nil {
		return nil, err
	}
	targets, err := l.embedSingle(ctx, pivots, relUsing, EmbedOptions{
		Conditions: and(opts.Conditions, rel.Constraints()),
		Order:      opts.Order,
		Fields:     firstNonNil(opts.Fields, rel.Fields()),
	})
	if err != nil {
		return nil, err
	}

	for _, parent := range coll {
		list := record.Collection{}
		for _, pivot := range pivotsOf(parent, relThrough) {
			if target := pivot.One(relUsing.Name()); target != nil {
				list = append(list, target)
			}
		}
		parent.Set(rel.Name(), list)
	}
	return targets, nil
}

// With embeds dotted relation paths such as "images.tags" starting from
// entity. Shared prefixes are embedded once.
func (l *Loader) With(ctx context.Context, coll record.Collection, entity string, paths ...string) error {
	type level struct {
		coll   record.Collection
		entity string
	}
	done := map[string]level{"": {coll: coll, entity: entity}}

	for _, path := range paths {
		segments := strings.Split(path, ".")
		for i, name := range segments {
			key := strings.Join(segments[:i+1], ".")
			if _, ok := done[key]; ok {
				continue
			}
			parent := done[strings.Join(segments[:i], ".")]
			rel, err := l.reg.Relation(parent.entity, name)
			if err != nil {
				return err
			}
			fetched, err := l.Embed(ctx, parent.coll, rel, EmbedOptions{})
			if err != nil {
				return err
			}
			done[key] = level{coll: fetched, entity: rel.To()}
		}
	}
	return nil
}

// Get lazily loads rel for a single record and returns what was attached.
func (l *Loader) Get(ctx context.Context, rec *record.Record, rel *metadata.Relation) (any, error) {
	if _, err := l.Embed(ctx, record.Collection{rec}, rel, EmbedOptions{}); err != nil {
		return nil, err
	}
	return rec.Get(rel.Name()), nil
}

func reset(parent *record.Record, rel *metadata.Relation) {
	if rel.Many() {
		parent.Set(rel.Name(), record.Collection{})
	} else {
		parent.Set(rel.Name(), (*record.Record)(nil))
	}
}

func attach(parent *record.Record, rel *metadata.Relation, row *record.Record) {
	if !rel.Many() {
		if parent.One(rel.Name()) == nil {
			parent.Set(rel.Name(), row)
		}
		return
	}
	parent.Set(rel.Name(), append(parent.Related(rel.Name()), row))
}

func pivotsOf(parent *record.Record, rel *metadata.Relation) record.Collection {
	if rel.Many() {
		return parent.Related(rel.Name())
	}
	if p := parent.One(rel.Name()); p != nil {
		return record.Collection{p}
	}
	return nil
}

// embedded gathers data already stored inside the parents.
func embedded(coll record.Collection, rel *metadata.Relation) record.Collection {
	out := record.Collection{}
	for _, parent := range coll {
		switch v := parent.Get(rel.Name()).(type) {
		case *record.Record:
			if v != nil {
				out = append(out, v)
			}
		case record.Collection:
			out = append(out, v...)
		}
	}
	return out
}

// projection keeps the join key in a restricted field list.
func projection(fields []string, key string) []string {
	if fields == nil || slices.Contains(fields, key) {
		return fields
	}
	return append(slices.Clip(fields), key)
}

func firstNonNil(lists ...[]string) []string {
	for _, l := range lists {
		if l != nil {
			return l
		}
	}
	return nil
}

// and combines condition trees, skipping nil ones.
func and(trees ...any) any {
	var out []any
	for _, t := range trees {
		if t != nil {
			out = append(out, t)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
