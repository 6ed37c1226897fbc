package dialect

import "strings"

// Insert is an INSERT statement. Columns come from the first row; later
// rows are read by column name.
type Insert struct {
	d         *Dialect
	into      string
	rows      []Map
	returning []any
}

// Into sets the target table.
func (i *Insert) Into(table string) *Insert {
	i.into = table
	return i
}

// Values adds one row.
func (i *Insert) Values(row any) *Insert {
	if m, ok := entries(row); ok && len(m) > 0 {
		i.rows = append(i.rows, m)
	}
	return i
}

// Returning adds fields to a RETURNING clause. Dialects without RETURNING
// ignore it.
func (i *Insert) Returning(fields ...any) *Insert {
	i.returning = append(i.returning, fields...)
	return i
}

func (i *Insert) SQL() (string, error)          { return renderSQL(i.d, i) }
func (i *Insert) Query() (string, []any, error) { return renderQuery(i.d, i) }
func (i *Insert) String() string                { return renderString(i.d, i) }

func (i *Insert) render(b *builder) (string, error) {
	if i.into == "" {
		return "", &ClauseError{Statement: "INSERT", Clause: "table name"}
	}
	if len(i.rows) == 0 {
		return "", &ClauseError{Statement: "INSERT", Clause: "values"}
	}
	columns := i.rows[0].Keys()
	quoted := make([]string, len(columns))
	for n, c := range columns {
		quoted[n] = b.d.Quote(c)
	}
	tuples := make([]string, len(i.rows))
	for r, row := range i.rows {
		vals := make([]string, len(columns))
		for n, c := range columns {
			v, _ := row.Get(c)
			s, err := b.expr(v)
			if err != nil {
				return "", err
			}
			vals[n] = s
		}
		tuples[r] = "(" + strings.Join(vals, ", ") + ")"
	}
	s := "INSERT INTO " + b.d.Quote(i.into) + " (" + strings.Join(quoted, ", ") + ") VALUES " + strings.Join(tuples, ", ")
	if len(i.returning) > 0 && b.d.returning {
		r, err := b.names(i.returning)
		if err != nil {
			return "", err
		}
		s += " RETURNING " + r
	}
	return s, nil
}
