package dialect

import "strings"

// Select is a SELECT statement.
type Select struct {
	d        *Dialect
	distinct bool
	fields   []any
	from     []any
	as       string
	joins    []join
	where    conditionList
	group    []any
	having   conditionList
	order    orderList
	limit    limitClause
}

type join struct {
	kind  string
	table any
	on    any
}

// Fields adds to the projection. No fields means `*`.
func (s *Select) Fields(fields ...any) *Select {
	s.fields = append(s.fields, fields...)
	return s
}

// Distinct toggles SELECT DISTINCT.
func (s *Select) Distinct(distinct bool) *Select {
	s.distinct = distinct
	return s
}

// From adds sources to the FROM clause.
func (s *Select) From(sources ...any) *Select {
	s.from = append(s.from, sources...)
	return s
}

// Alias names the statement when it is embedded as a subquery.
func (s *Select) Alias(alias string) *Select {
	s.as = alias
	return s
}

func (s *Select) alias() string { return s.as }

// Join adds a join on the given condition tree. kind defaults to LEFT.
func (s *Select) Join(table, on any, kind ...string) *Select {
	k := "LEFT"
	if len(kind) > 0 && kind[0] != "" {
		k = strings.ToUpper(kind[0])
	}
	s.joins = append(s.joins, join{kind: k, table: table, on: on})
	return s
}

// Where adds conditions, combined with AND.
func (s *Select) Where(conditions ...any) *Select {
	s.where.add(conditions...)
	return s
}

// Group adds GROUP BY fields.
func (s *Select) Group(fields ...any) *Select {
	s.group = append(s.group, fields...)
	return s
}

// Having adds HAVING conditions, combined with AND.
func (s *Select) Having(conditions ...any) *Select {
	s.having.add(conditions...)
	return s
}

// Order appends ORDER BY items.
func (s *Select) Order(fields ...any) *Select {
	s.order.add(fields...)
	return s
}

// Limit sets LIMIT and an optional OFFSET. A non-positive n is ignored.
func (s *Select) Limit(n int, offset ...int) *Select {
	s.limit.set(n, offset...)
	return s
}

func (s *Select) SQL() (string, error)          { return renderSQL(s.d, s) }
func (s *Select) Query() (string, []any, error) { return renderQuery(s.d, s) }
func (s *Select) String() string                { return renderString(s.d, s) }

func (s *Select) render(b *builder) (string, error) {
	if len(s.from) == 0 {
		return "", &ClauseError{Statement: "SELECT", Clause: "source"}
	}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if s.distinct {
		sb.WriteString("DISTINCT ")
	}
	fields := "*"
	if len(s.fields) > 0 {
		f, err := b.names(s.fields)
		if err != nil {
			return "", err
		}
		if f != "" {
			fields = f
		}
	}
	sb.WriteString(fields)

	from, err := b.names(s.from)
	if err != nil {
		return "", err
	}
	sb.WriteString(" FROM ")
	sb.WriteString(from)

	for _, j := range s.joins {
		table, err := b.names(j.table)
		if err != nil {
			return "", err
		}
		sb.WriteString(" " + j.kind + " JOIN " + table)
		on, err := b.conditions(j.on)
		if err != nil {
			return "", err
		}
		if on != "" {
			sb.WriteString(" ON " + on)
		}
	}

	where, err := s.where.render(b, "WHERE")
	if err != nil {
		return "", err
	}
	sb.WriteString(where)

	if len(s.group) > 0 {
		group, err := b.names(s.group)
		if err != nil {
			return "", err
		}
		sb.WriteString(" GROUP BY " + group)
	}

	having, err := s.having.render(b, "HAVING")
	if err != nil {
		return "", err
	}
	sb.WriteString(having)
	sb.WriteString(s.order.render(b.d))
	sb.WriteString(s.limit.render())
	return sb.String(), nil
}
