package engine

import (
	"context"
	"fmt"

	"chaos-orm/internal/record"
)

// Validate checks rec and every record attached to it against the entity
// definitions: required fields on new records, then the entity rules.
// Computed rules write their value back into the record. Details of
// attached records are prefixed with their path, e.g. "tags[1].name".
func (w *Writer) Validate(ctx context.Context, rec *record.Record) error {
	var details []ErrorDetail
	if err := w.validate(ctx, rec, "", &details, make(map[*record.Record]bool)); err != nil {
		return err
	}
	if len(details) > 0 {
		return ValidationError(details)
	}
	return nil
}

func (w *Writer) validate(ctx context.Context, rec *record.Record, path string, details *[]ErrorDetail, seen map[*record.Record]bool) error {
	if seen[rec] {
		return nil
	}
	seen[rec] = true

	entity, err := w.reg.Entity(rec.Entity())
	if err != nil {
		return err
	}

	fields := make(map[string]any)
	for _, name := range rec.Fields() {
		switch rec.Get(name).(type) {
		case *record.Record, record.Collection:
			continue
		}
		fields[name] = rec.Get(name)
	}

	var errs []ErrorDetail
	if !rec.Exists() {
		for _, f := range entity.WritableFields() {
			if f.Required && f.Default == nil && fields[f.Name] == nil {
				errs = append(errs, ErrorDetail{
					Field:   f.Name,
					Rule:    "required",
					Message: fmt.Sprintf("%s is required", f.Name),
				})
			}
		}
	}
	errs = append(errs, applyRules(ctx, entity, rec, fields)...)
	for _, e := range errs {
		if path != "" {
			if e.Field != "" {
				e.Field = path + "." + e.Field
			} else {
				e.Field = path
			}
		}
		*details = append(*details, e)
	}

	for _, rel := range w.reg.Relations(rec.Entity()) {
		if !rec.Attached(rel.Name()) {
			continue
		}
		prefix := rel.Name()
		if path != "" {
			prefix = path + "." + prefix
		}
		if rel.Many() {
			for i, item := range rec.Related(rel.Name()) {
				if err := w.validate(ctx, item, fmt.Sprintf("%s[%d]", prefix, i), details, seen); err != nil {
					return err
				}
			}
		} else if related := rec.One(rel.Name()); related != nil {
			if err := w.validate(ctx, related, prefix, details, seen); err != nil {
				return err
			}
		}
	}
	return nil
}
