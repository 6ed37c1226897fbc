package engine

import (
	"fmt"
	"reflect"

	"chaos-orm/internal/record"
)

// Index maps join-key values to the positions of the records carrying them.
// Keys are compared by their formatted value so 1 (int) and int64(1) meet.
type Index struct {
	positions map[string][]int
	keys      []any
}

// NewIndex indexes coll by field. A field holding a list is indexed once
// per element; nil values are skipped.
func NewIndex(coll record.Collection, field string) *Index {
	idx := &Index{positions: make(map[string][]int)}
	for i, rec := range coll {
		for _, v := range keyValues(rec.Get(field)) {
			idx.add(v, i)
		}
	}
	return idx
}

func (idx *Index) add(v any, pos int) {
	k := fmt.Sprintf("%v", v)
	prev, seen := idx.positions[k]
	if !seen {
		idx.keys = append(idx.keys, v)
	}
	for _, p := range prev {
		if p == pos {
			return
		}
	}
	idx.positions[k] = append(prev, pos)
}

// Keys returns the distinct key values in first-seen order.
func (idx *Index) Keys() []any { return idx.keys }

func (idx *Index) Len() int { return len(idx.keys) }

// Positions returns every position holding v. A list value collects the
// positions of each element.
func (idx *Index) Positions(v any) []int {
	var out []int
	for _, k := range keyValues(v) {
		out = append(out, idx.positions[fmt.Sprintf("%v", k)]...)
	}
	return out
}

func keyValues(v any) []any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case []byte, string:
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if e := rv.Index(i).Interface(); e != nil {
			out = append(out, e)
		}
	}
	return out
}
