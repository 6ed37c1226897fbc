package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Statement is a SQL statement builder. Rendering never mutates the builder,
// so SQL, Query and String may be called any number of times.
type Statement interface {
	// SQL renders the statement with inline literals.
	SQL() (string, error)
	// Query renders the statement with dialect placeholders and returns the
	// bound values in placeholder order.
	Query() (string, []any, error)
	// String renders like SQL. A render error is reported inline as
	// %!(MISSING CLAUSE: ...) or %!(MALFORMED: ...).
	String() string

	render(b *builder) (string, error)
}

func renderSQL(d *Dialect, st Statement) (string, error) {
	return st.render(d.newBuilder(false))
}

func renderQuery(d *Dialect, st Statement) (string, []any, error) {
	b := d.newBuilder(true)
	s, err := st.render(b)
	if err != nil {
		return "", nil, err
	}
	return s, b.args, nil
}

func renderString(d *Dialect, st Statement) string {
	s, err := renderSQL(d, st)
	if err == nil {
		return s
	}
	var ce *ClauseError
	if errors.As(err, &ce) {
		return fmt.Sprintf("%%!(MISSING CLAUSE: %s %s)", ce.Statement, ce.Clause)
	}
	return fmt.Sprintf("%%!(MALFORMED: %v)", err)
}

// conditionList accumulates WHERE or HAVING trees; they combine with AND.
type conditionList []any

func (c *conditionList) add(conditions ...any) {
	for _, cond := range conditions {
		if cond != nil {
			*c = append(*c, cond)
		}
	}
}

func (c conditionList) render(b *builder, keyword string) (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	s, err := b.conditions([]any(c))
	if err != nil || s == "" {
		return "", err
	}
	return " " + keyword + " " + s, nil
}

type orderItem struct {
	field     string
	direction string
}

// orderList accumulates ORDER BY items across calls.
type orderList []orderItem

func (o *orderList) add(fields ...any) {
	for _, f := range fields {
		*o = append(*o, parseOrder(f)...)
	}
}

func parseOrder(v any) []orderItem {
	switch f := v.(type) {
	case nil:
		return nil
	case string:
		var out []orderItem
		for _, chunk := range strings.Split(f, ",") {
			words := strings.Fields(chunk)
			switch len(words) {
			case 0:
			case 1:
				out = append(out, orderItem{field: words[0], direction: "ASC"})
			default:
				out = append(out, orderItem{field: words[0], direction: direction(words[1])})
			}
		}
		return out
	}
	if list, ok := items(v); ok {
		var out []orderItem
		for _, item := range list {
			out = append(out, parseOrder(item)...)
		}
		return out
	}
	if m, ok := entries(v); ok {
		out := make([]orderItem, 0, len(m))
		for _, p := range m {
			dir, _ := p.Value.(string)
			out = append(out, orderItem{field: p.Key, direction: direction(dir)})
		}
		return out
	}
	return nil
}

func direction(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "DESC") {
		return "DESC"
	}
	return "ASC"
}

func (o orderList) render(d *Dialect) string {
	if len(o) == 0 {
		return ""
	}
	parts := make([]string, len(o))
	for i, item := range o {
		parts[i] = d.Quote(item.field) + " " + item.direction
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

type limitClause struct {
	n, offset int
}

// set ignores a non-positive limit so that LIMIT 0 is never emitted.
func (l *limitClause) set(n int, offset ...int) {
	if n <= 0 {
		return
	}
	l.n = n
	l.offset = 0
	if len(offset) > 0 && offset[0] > 0 {
		l.offset = offset[0]
	}
}

func (l limitClause) render() string {
	if l.n <= 0 {
		return ""
	}
	s := " LIMIT " + strconv.Itoa(l.n)
	if l.offset > 0 {
		s += " OFFSET " + strconv.Itoa(l.offset)
	}
	return s
}
