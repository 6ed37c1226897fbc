package engine

import (
	"errors"
	"fmt"
)

// Outcome is the result of one write attempted during a save.
type Outcome struct {
	Entity string
	Action string // save, create, update, delete, remove
	Key    any
	Err    error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %s %v: %v", o.Action, o.Entity, o.Key, o.Err)
	}
	return fmt.Sprintf("%s %s %v", o.Action, o.Entity, o.Key)
}

// Result accumulates the outcomes of a save. Every item is attempted; a
// single failure makes the whole result fail.
type Result struct {
	Outcomes []Outcome
}

func (r *Result) add(entity, action string, key any, err error) {
	r.Outcomes = append(r.Outcomes, Outcome{Entity: entity, Action: action, Key: key, Err: err})
}

// Merge appends the outcomes of other.
func (r *Result) Merge(other *Result) {
	if other != nil {
		r.Outcomes = append(r.Outcomes, other.Outcomes...)
	}
}

// OK reports whether every outcome succeeded.
func (r *Result) OK() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return false
		}
	}
	return true
}

// Err joins the errors of all failed outcomes, or returns nil.
func (r *Result) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", o.Action, o.Entity, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Count returns how many outcomes have the given action.
func (r *Result) Count(action string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

// WriteError reports a save whose Result holds failed outcomes.
type WriteError struct {
	Result *Result
}

func (e *WriteError) Error() string { return e.Result.Err().Error() }

func (e *WriteError) Unwrap() error { return e.Result.Err() }
