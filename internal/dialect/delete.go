package dialect

// Delete is a DELETE statement.
type Delete struct {
	d     *Dialect
	from  []any
	where conditionList
	order orderList
	limit limitClause
}

func (s *Delete) From(tables ...any) *Delete {
	s.from = append(s.from, tables...)
	return s
}

func (s *Delete) Where(conditions ...any) *Delete {
	s.where.add(conditions...)
	return s
}

func (s *Delete) Order(fields ...any) *Delete {
	s.order.add(fields...)
	return s
}

func (s *Delete) Limit(n int, offset ...int) *Delete {
	s.limit.set(n, offset...)
	return s
}

func (s *Delete) SQL() (string, error)          { return renderSQL(s.d, s) }
func (s *Delete) Query() (string, []any, error) { return renderQuery(s.d, s) }
func (s *Delete) String() string                { return renderString(s.d, s) }

func (s *Delete) render(b *builder) (string, error) {
	if len(s.from) == 0 {
		return "", &ClauseError{Statement: "DELETE", Clause: "table name"}
	}
	from, err := b.names(s.from)
	if err != nil {
		return "", err
	}
	where, err := s.where.render(b, "WHERE")
	if err != nil {
		return "", err
	}
	return "DELETE FROM " + from + where + s.order.render(b.d) + s.limit.render(), nil
}
