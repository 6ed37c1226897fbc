package engine

import (
	"context"
	"fmt"
	"slices"

	"chaos-orm/internal/dialect"
	"chaos-orm/internal/instrument"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/record"
)

// Writer persists records together with the related records attached to
// them. It issues writes one by one and never opens a transaction; pass
// transactional sources when atomicity is needed.
type Writer struct {
	reg     *metadata.Registry
	sources Sources
}

func NewWriter(reg *metadata.Registry, sources Sources) *Writer {
	return &Writer{reg: reg, sources: sources}
}

// Persist validates rec and the records attached to it, then saves the
// whole graph: belongsTo parents first, rec itself, then the remaining
// relations. A returned error is fatal; per-item failures are reported in
// the Result.
func (w *Writer) Persist(ctx context.Context, rec *record.Record) (*Result, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "writer", "save")
	defer span.End()
	span.SetEntity(rec.Entity(), "")

	if err := w.Validate(ctx, rec); err != nil {
		span.SetStatus("error")
		return nil, err
	}

	res := &Result{}
	if _, err := w.persist(ctx, rec, res); err != nil {
		span.SetStatus("error")
		return nil, err
	}
	if !res.OK() {
		span.SetStatus("error")
	} else {
		span.SetStatus("ok")
	}
	span.SetMetadata("writes", len(res.Outcomes))
	return res, nil
}

// Save propagates the related data attached to rec under rel. It is a
// no-op for links other than key, and when nothing or nil is attached.
func (w *Writer) Save(ctx context.Context, rec *record.Record, rel *metadata.Relation) (*Result, error) {
	res := &Result{}
	if err := w.save(ctx, rec, rel, res); err != nil {
		return nil, err
	}
	return res, nil
}

// persist saves rec and its relations. It reports whether rec itself was
// stored.
func (w *Writer) persist(ctx context.Context, rec *record.Record, res *Result) (bool, error) {
	relations := w.reg.Relations(rec.Entity())
	for _, rel := range relations {
		if rel.Kind() != metadata.BelongsTo {
			continue
		}
		if err := w.save(ctx, rec, rel, res); err != nil {
			return false, err
		}
	}

	source, err := w.sources.Source(rec.Entity())
	if err != nil {
		return false, err
	}
	err = source.Save(ctx, rec)
	res.add(rec.Entity(), "save", w.key(rec), err)
	if err != nil {
		return false, nil
	}

	pivots := throughPivots(rec, relations)
	for _, rel := range relations {
		if rel.Kind() == metadata.BelongsTo || pivots[rel.Name()] {
			continue
		}
		if err := w.save(ctx, rec, rel, res); err != nil {
			return true, err
		}
	}
	return true, nil
}

// throughPivots names the pivot relations of rec that an attached through
// relation reconciles on its own.
func throughPivots(rec *record.Record, relations []*metadata.Relation) map[string]bool {
	var out map[string]bool
	for _, rel := range relations {
		if rel.Kind() != metadata.HasManyThrough || !rec.Attached(rel.Name()) {
			continue
		}
		if out == nil {
			out = make(map[string]bool)
		}
		out[rel.Through()] = true
	}
	return out
}

func (w *Writer) save(ctx context.Context, rec *record.Record, rel *metadata.Relation, res *Result) error {
	if rel.LinkType() != metadata.LinkKey || !rec.Attached(rel.Name()) {
		return nil
	}

	switch rel.Kind() {
	case metadata.BelongsTo:
		related := rec.One(rel.Name())
		if related == nil {
			return nil
		}
		ok, err := w.persist(ctx, related, res)
		if err != nil || !ok {
			return err
		}
		rec.Merge(rel.Reference(related))
		return nil

	case metadata.HasOne:
		related := rec.One(rel.Name())
		if related == nil {
			return nil
		}
		assign(related, rel.Match(rec))
		_, err := w.persist(ctx, related, res)
		return err

	case metadata.HasMany:
		return w.broadcast(ctx, rec, rel, res)

	case metadata.HasManyThrough:
		relThrough, err := w.reg.Relation(rel.From(), rel.Through())
		if err != nil {
			return err
		}
		relUsing, err := w.reg.Relation(relThrough.To(), rel.Using())
		if err != nil {
			return err
		}
		if rel.Mode() == metadata.ModeFlush {
			err = w.flush(ctx, rec, rel, relThrough, relUsing, res)
		} else {
			err = w.diff(ctx, rec, rel, relThrough, relUsing, res)
		}
		rec.Unset(relThrough.Name())
		return err
	}
	return nil
}

// broadcast points every attached record at rec. Rows that were linked
// before but are no longer attached get their key cleared, or are deleted
// when the relation is a junction.
func (w *Writer) broadcast(ctx context.Context, rec *record.Record, rel *metadata.Relation, res *Result) error {
	source, err := w.sources.Source(rel.To())
	if err != nil {
		return err
	}
	target, err := w.reg.Entity(rel.To())
	if err != nil {
		return err
	}
	pk := target.PrimaryKey.Field

	conditions := rel.Match(rec)
	previous, err := source.Fetch(ctx, Query{Conditions: conditions, Constraints: rel.Constraints()})
	if err != nil {
		return fmt.Errorf("fetch previous %s: %w", rel, err)
	}
	stale := indexByPK(previous, pk)

	for _, item := range rec.Related(rel.Name()) {
		if item.Exists() {
			delete(stale, fmt.Sprintf("%v", item.Get(pk)))
		}
		assign(item, conditions)
		if _, err := w.persist(ctx, item, res); err != nil {
			return err
		}
	}

	for _, row := range previous {
		if _, ok := stale[fmt.Sprintf("%v", row.Get(pk))]; !ok {
			continue
		}
		if rel.Junction() {
			res.add(rel.To(), "delete", row.Get(pk), source.Delete(ctx, row))
			continue
		}
		row.Set(rel.ToKey(), nil)
		res.add(rel.To(), "update", row.Get(pk), source.Save(ctx, row))
	}
	return nil
}

// diff reconciles the pivot rows of a through relation with the attached
// targets: links still present are left alone, new targets get a pivot
// row and the leftover pivots are removed in one statement.
func (w *Writer) diff(ctx context.Context, rec *record.Record, rel, relThrough, relUsing *metadata.Relation, res *Result) error {
	pivots, pk, source, err := w.pivots(ctx, rec, relThrough)
	if err != nil {
		return err
	}
	association := relThrough.Match(rec)
	pool := slices.Clone(pivots)

	for _, item := range rec.Related(rel.Name()) {
		ok, err := w.persist(ctx, item, res)
		if err != nil {
			return err
		}
		ref := relUsing.Reference(item)
		if i := slices.IndexFunc(pool, func(p *record.Record) bool { return overlaps(p, ref) }); i >= 0 {
			pool = slices.Delete(pool, i, i+1)
			continue
		}
		if ok {
			w.link(ctx, source, relThrough.To(), pk, association, ref, res)
		}
	}

	if len(pool) == 0 {
		return nil
	}
	ids := pool.Values(pk)
	_, err = source.Remove(ctx, dialect.M(pk, ids))
	res.add(relThrough.To(), "remove", ids, err)
	return nil
}

// flush removes every pivot row of the association, then links each
// attached target again.
func (w *Writer) flush(ctx context.Context, rec *record.Record, rel, relThrough, relUsing *metadata.Relation, res *Result) error {
	source, err := w.sources.Source(relThrough.To())
	if err != nil {
		return err
	}
	pivot, err := w.reg.Entity(relThrough.To())
	if err != nil {
		return err
	}
	association := relThrough.Match(rec)

	_, err = source.Remove(ctx, and(association, relThrough.Constraints()))
	res.add(relThrough.To(), "remove", association, err)
	if err != nil {
		// links are only recreated once the old ones are gone
		return nil
	}

	for _, item := range rec.Related(rel.Name()) {
		ok, err := w.persist(ctx, item, res)
		if err != nil {
			return err
		}
		if ok {
			w.link(ctx, source, relThrough.To(), pivot.PrimaryKey.Field, association, relUsing.Reference(item), res)
		}
	}
	return nil
}

func (w *Writer) pivots(ctx context.Context, rec *record.Record, relThrough *metadata.Relation) (record.Collection, string, Source, error) {
	source, err := w.sources.Source(relThrough.To())
	if err != nil {
		return nil, "", nil, err
	}
	pivot, err := w.reg.Entity(relThrough.To())
	if err != nil {
		return nil, "", nil, err
	}
	rows, err := source.Fetch(ctx, Query{Conditions: relThrough.Match(rec), Constraints: relThrough.Constraints()})
	if err != nil {
		return nil, "", nil, fmt.Errorf("fetch pivots %s: %w", relThrough, err)
	}
	return rows, pivot.PrimaryKey.Field, source, nil
}

// link creates the pivot row joining association and ref.
func (w *Writer) link(ctx context.Context, source Source, entity, pk string, association dialect.Map, ref map[string]any, res *Result) {
	attrs := make(map[string]any, len(association)+len(ref))
	for _, p := range association {
		attrs[p.Key] = p.Value
	}
	for k, v := range ref {
		attrs[k] = v
	}
	row := source.Create(attrs)
	err := source.Save(ctx, row)
	res.add(entity, "create", row.Get(pk), err)
}

func (w *Writer) key(rec *record.Record) any {
	if e := w.reg.GetEntity(rec.Entity()); e != nil {
		return rec.Get(e.PrimaryKey.Field)
	}
	return nil
}

// --- Helpers ---

func assign(rec *record.Record, m dialect.Map) {
	for _, p := range m {
		rec.Set(p.Key, p.Value)
	}
}

func indexByPK(rows record.Collection, pkField string) map[string]*record.Record {
	m := make(map[string]*record.Record, len(rows))
	for _, row := range rows {
		if pk := row.Get(pkField); pk != nil {
			m[fmt.Sprintf("%v", pk)] = row
		}
	}
	return m
}

// overlaps reports whether pivot already records any of the ref values.
func overlaps(pivot *record.Record, ref map[string]any) bool {
	for k, v := range ref {
		if v != nil && fmt.Sprintf("%v", pivot.Get(k)) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
