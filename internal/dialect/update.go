package dialect

import "strings"

// Update is an UPDATE statement.
type Update struct {
	d      *Dialect
	table  []any
	values Map
	where  conditionList
	order  orderList
	limit  limitClause
}

// Table sets the table to update.
func (u *Update) Table(tables ...any) *Update {
	u.table = append(u.table, tables...)
	return u
}

// Values merges column values into the SET clause. Values may be scalars
// or `:name`/`:plain`/`:value` leaves and operator nodes.
func (u *Update) Values(values any) *Update {
	m, _ := entries(values)
	for _, p := range m {
		u.values = u.values.With(p.Key, p.Value)
	}
	return u
}

func (u *Update) Where(conditions ...any) *Update {
	u.where.add(conditions...)
	return u
}

func (u *Update) Order(fields ...any) *Update {
	u.order.add(fields...)
	return u
}

func (u *Update) Limit(n int, offset ...int) *Update {
	u.limit.set(n, offset...)
	return u
}

func (u *Update) SQL() (string, error)          { return renderSQL(u.d, u) }
func (u *Update) Query() (string, []any, error) { return renderQuery(u.d, u) }
func (u *Update) String() string                { return renderString(u.d, u) }

func (u *Update) render(b *builder) (string, error) {
	if len(u.table) == 0 {
		return "", &ClauseError{Statement: "UPDATE", Clause: "table name"}
	}
	if len(u.values) == 0 {
		return "", &ClauseError{Statement: "UPDATE", Clause: "values"}
	}
	table, err := b.names(u.table)
	if err != nil {
		return "", err
	}
	sets := make([]string, len(u.values))
	for i, p := range u.values {
		v, err := b.expr(p.Value)
		if err != nil {
			return "", err
		}
		sets[i] = b.d.Quote(p.Key) + " = " + v
	}
	where, err := u.where.render(b, "WHERE")
	if err != nil {
		return "", err
	}
	return "UPDATE " + table + " SET " + strings.Join(sets, ", ") + where + u.order.render(b.d) + u.limit.render(), nil
}
