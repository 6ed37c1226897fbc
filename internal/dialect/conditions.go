package dialect

import (
	"strings"
)

// symbols are the operators written without a leading colon.
var symbols = map[string]bool{
	"=": true, "<>": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func isOperator(key string) bool {
	return symbols[key] || strings.HasPrefix(key, ":")
}

func isLeaf(key string) bool {
	return key == ":name" || key == ":value" || key == ":plain"
}

// conditions compiles a tree into conjuncts joined by AND.
func (b *builder) conditions(tree any) (string, error) {
	parts, err := b.conjuncts(tree)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, " AND "), nil
}

func (b *builder) conjuncts(tree any) ([]string, error) {
	switch t := tree.(type) {
	case nil:
		return nil, nil
	case bool:
		s, _ := b.d.Literal(t)
		return []string{s}, nil
	case Statement:
		return nil, malformed(tree, "statement is not a condition")
	}
	if list, ok := items(tree); ok {
		var parts []string
		for _, item := range list {
			p, err := b.conjuncts(item)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p...)
		}
		return parts, nil
	}
	m, ok := entries(tree)
	if !ok {
		return nil, malformed(tree, "expected a mapping or a list")
	}
	parts := make([]string, 0, len(m))
	for _, p := range m {
		var (
			s   string
			err error
		)
		if isOperator(p.Key) {
			s, err = b.operator(p.Key, p.Value)
		} else {
			s, err = b.field(p.Key, p.Value)
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	return parts, nil
}

// field compiles the `{field: value}` forms.
func (b *builder) field(name string, v any) (string, error) {
	left := b.d.Quote(name)
	if v == nil {
		return left + " IS NULL", nil
	}
	if st, ok := v.(Statement); ok {
		sub, err := b.subquery(st)
		if err != nil {
			return "", err
		}
		return left + " IN " + sub, nil
	}
	if list, ok := items(v); ok {
		return b.in(left, "IN", list)
	}
	if m, ok := entries(v); ok {
		if len(m) == 0 {
			return "", malformed(Map{{Key: name, Value: v}}, "empty mapping under field %q", name)
		}
		if len(m) == 1 && isLeaf(m[0].Key) {
			right, err := b.expr(m)
			if err != nil {
				return "", err
			}
			return left + " = " + right, nil
		}
		// Alternative syntax: {field: {op: operand}} is {op: [name(field), operand]}.
		parts := make([]string, 0, len(m))
		for _, p := range m {
			if !isOperator(p.Key) || isLeaf(p.Key) {
				return "", malformed(Map{{Key: name, Value: v}}, "unexpected key %q under field %q", p.Key, name)
			}
			s, err := b.operator(p.Key, []any{Name(name), p.Value})
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " AND "), nil
	}
	right, err := b.value(v)
	if err != nil {
		return "", err
	}
	return left + " = " + right, nil
}

// expr renders one operand: a leaf, an operator node, a subquery or a value.
func (b *builder) expr(v any) (string, error) {
	if st, ok := v.(Statement); ok {
		return b.subquery(st)
	}
	if list, ok := items(v); ok {
		return b.list(list)
	}
	if m, ok := entries(v); ok {
		if len(m) == 1 && isOperator(m[0].Key) {
			return b.operator(m[0].Key, m[0].Value)
		}
		parts, err := b.conjuncts(m)
		if err != nil {
			return "", err
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	}
	return b.value(v)
}

// subexpr renders an operand that SQL requires in parentheses.
func (b *builder) subexpr(v any) (string, error) {
	if m, ok := entries(v); ok && len(m) == 1 && m[0].Key == ":plain" {
		s, err := b.plain(m[0].Value)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil
	}
	return b.expr(v)
}

func (b *builder) list(list []any) (string, error) {
	parts := make([]string, len(list))
	for i, item := range list {
		s, err := b.expr(item)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

func (b *builder) subquery(st Statement) (string, error) {
	s, err := st.render(b)
	if err != nil {
		return "", err
	}
	return "(" + s + ")", nil
}

func (b *builder) plain(v any) (string, error) {
	switch p := v.(type) {
	case string:
		return p, nil
	case Statement:
		return p.render(b)
	}
	return "", malformed(Plain(v), "plain value must be a string or a statement")
}

func (b *builder) in(left, op string, list []any) (string, error) {
	if len(list) == 0 {
		if op == "IN" {
			return "1=0", nil
		}
		return "1=1", nil
	}
	right, err := b.list(list)
	if err != nil {
		return "", err
	}
	return left + " " + op + " " + right, nil
}

// operator renders `{op: operands}`.
func (b *builder) operator(op string, v any) (string, error) {
	switch op {
	case ":name":
		s, ok := v.(string)
		if !ok {
			return "", malformed(Name("?"), "name must be a string, got %T", v)
		}
		return b.d.Quote(s), nil
	case ":value":
		return b.value(v)
	case ":plain":
		return b.plain(v)
	}

	args := operands(v)
	node := Map{{Key: op, Value: v}}
	arity := func(n int) error {
		if len(args) != n {
			return malformed(node, "operator %s expects %d operands, got %d", op, n, len(args))
		}
		return nil
	}

	if strings.HasSuffix(op, "()") && strings.HasPrefix(op, ":") {
		fn := strings.ToUpper(strings.TrimSuffix(op[1:], "()"))
		if fn == "" {
			return "", malformed(node, "empty function name")
		}
		parts, err := b.exprs(args)
		if err != nil {
			return "", err
		}
		return fn + "(" + strings.Join(parts, ", ") + ")", nil
	}

	switch op {
	case "=", "<>", "!=", "<", "<=", ">", ">=", ":like", ":not like", ":is", ":is not":
		if err := arity(2); err != nil {
			return "", err
		}
		left, err := b.expr(args[0])
		if err != nil {
			return "", err
		}
		if args[1] == nil {
			switch op {
			case "=", ":is":
				return left + " IS NULL", nil
			case "<>", "!=", ":is not":
				return left + " IS NOT NULL", nil
			}
		}
		right, err := b.expr(args[1])
		if err != nil {
			return "", err
		}
		return left + " " + strings.ToUpper(strings.TrimPrefix(op, ":")) + " " + right, nil

	case ":between", ":not between":
		bounds := args
		if len(args) == 2 {
			if list, ok := items(args[1]); ok {
				bounds = append([]any{args[0]}, list...)
			}
		}
		if len(bounds) != 3 {
			return "", malformed(node, "operator %s expects a field and two bounds", op)
		}
		parts, err := b.exprs(bounds)
		if err != nil {
			return "", err
		}
		return parts[0] + " " + strings.ToUpper(op[1:]) + " " + parts[1] + " AND " + parts[2], nil

	case ":in", ":not in":
		if err := arity(2); err != nil {
			return "", err
		}
		left, err := b.expr(args[0])
		if err != nil {
			return "", err
		}
		kw := strings.ToUpper(op[1:])
		if list, ok := items(args[1]); ok {
			return b.in(left, kw, list)
		}
		right, err := b.subexpr(args[1])
		if err != nil {
			return "", err
		}
		return left + " " + kw + " " + right, nil

	case ":any", ":all", ":some":
		if err := arity(2); err != nil {
			return "", err
		}
		left, err := b.expr(args[0])
		if err != nil {
			return "", err
		}
		right, err := b.subexpr(args[1])
		if err != nil {
			return "", err
		}
		return left + " " + strings.ToUpper(op[1:]) + " " + right, nil

	case ":exists", ":not exists":
		if err := arity(1); err != nil {
			return "", err
		}
		sub, err := b.subexpr(args[0])
		if err != nil {
			return "", err
		}
		return strings.ToUpper(op[1:]) + " " + sub, nil

	case ":not":
		s, err := b.conditions(v)
		if err != nil {
			return "", err
		}
		if s == "" {
			return "", malformed(node, "empty negation")
		}
		return "NOT (" + s + ")", nil

	case ":and", ":or":
		parts := make([]string, 0, len(args))
		for _, a := range args {
			s, err := b.conditions(a)
			if err != nil {
				return "", err
			}
			if s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", malformed(node, "operator %s without operands", op)
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(op[1:])+" ") + ")", nil

	case ":distinct":
		parts, err := b.exprs(args)
		if err != nil {
			return "", err
		}
		return "DISTINCT " + strings.Join(parts, ", "), nil

	case ":as":
		if err := arity(2); err != nil {
			return "", err
		}
		left, err := b.expr(args[0])
		if err != nil {
			return "", err
		}
		alias, ok := args[1].(string)
		if !ok {
			return "", malformed(node, "alias must be a string")
		}
		return left + " AS " + b.d.quoteIdent(alias), nil
	}
	return "", malformed(node, "unknown operator %q", op)
}

func (b *builder) exprs(args []any) ([]string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := b.expr(a)
		if err != nil {
			return nil, err
		}
		parts[i] = s
	}
	return parts, nil
}

// Prefix returns a copy of tree where every unqualified field reference
// (mapping keys and `:name` leaves) is qualified with prefix.
func (d *Dialect) Prefix(tree any, prefix string) any {
	return prefixTree(tree, prefix)
}

func prefixTree(tree any, prefix string) any {
	if prefix == "" {
		return tree
	}
	switch tree.(type) {
	case nil, Statement:
		return tree
	}
	if list, ok := items(tree); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = prefixTree(item, prefix)
		}
		return out
	}
	m, ok := entries(tree)
	if !ok {
		return tree
	}
	out := make(Map, len(m))
	for i, p := range m {
		switch {
		case p.Key == ":name":
			if s, ok := p.Value.(string); ok {
				out[i] = Pair{Key: p.Key, Value: qualify(prefix, s)}
				continue
			}
			out[i] = p
		case p.Key == ":value" || p.Key == ":plain":
			out[i] = p
		case isOperator(p.Key):
			out[i] = Pair{Key: p.Key, Value: prefixTree(p.Value, prefix)}
		default:
			out[i] = Pair{Key: qualify(prefix, p.Key), Value: prefixTree(p.Value, prefix)}
		}
	}
	return out
}

func qualify(prefix, field string) string {
	if prefix == "" || strings.Contains(field, ".") {
		return field
	}
	return prefix + "." + field
}
