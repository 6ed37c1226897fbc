package dialect

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"time"
)

// builder carries one render pass. In parameter mode values become
// placeholders and are collected in args, in textual order.
type builder struct {
	d      *Dialect
	params bool
	args   []any
}

func (d *Dialect) newBuilder(params bool) *builder {
	return &builder{d: d, params: params}
}

// value renders v as a literal, or as the next placeholder in parameter mode.
func (b *builder) value(v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	if b.params {
		b.args = append(b.args, v)
		return b.d.Placeholder(len(b.args)), nil
	}
	return b.d.Literal(v)
}

// Literal renders v as an inline SQL literal.
func (d *Dialect) Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return d.quoteString(x), nil
	case []byte:
		return d.quoteString(string(x)), nil
	case int:
		return strconv.Itoa(x), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return formatFloat(float64(x))
	case float64:
		return formatFloat(x)
	case time.Time:
		return d.quoteString(x.Format(time.RFC3339Nano)), nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return "", fmt.Errorf("literal %T: %w", v, err)
		}
		return d.Literal(dv)
	case fmt.Stringer:
		return d.quoteString(x.String()), nil
	}
	return "", malformed(v, "unsupported literal type %T", v)
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", malformed(f, "non-finite number")
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
