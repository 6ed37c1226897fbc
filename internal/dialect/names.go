package dialect

import "strings"

// names flattens a field list into comma-joined escaped names. Identical
// renderings collapse to their first occurrence.
func (b *builder) names(fields any) (string, error) {
	var parts []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			parts = append(parts, s)
		}
	}
	if err := b.collect(fields, "", add); err != nil {
		return "", err
	}
	return strings.Join(parts, ", "), nil
}

// collect walks one node of a field list. prefix is the qualifier of the
// nearest enclosing prefix key.
func (b *builder) collect(v any, prefix string, add func(string)) error {
	switch f := v.(type) {
	case nil:
		return nil
	case string:
		if f != "" {
			add(b.d.Quote(qualify(prefix, f)))
		}
		return nil
	case Statement:
		s, err := b.subquery(f)
		if err != nil {
			return err
		}
		if a, ok := f.(interface{ alias() string }); ok && a.alias() != "" {
			s += " AS " + b.d.quoteIdent(a.alias())
		}
		add(s)
		return nil
	}
	if list, ok := items(v); ok {
		for _, item := range list {
			if err := b.collect(item, prefix, add); err != nil {
				return err
			}
		}
		return nil
	}
	m, ok := entries(v)
	if !ok {
		return malformed(v, "unsupported field %T", v)
	}
	for _, p := range m {
		if isOperator(p.Key) {
			s, err := b.operator(p.Key, p.Value)
			if err != nil {
				return err
			}
			add(s)
			continue
		}
		switch val := p.Value.(type) {
		case string:
			add(b.d.Quote(qualify(prefix, p.Key)) + " AS " + b.d.quoteIdent(val))
			continue
		case Statement:
			s, err := b.subquery(val)
			if err != nil {
				return err
			}
			add(s + " AS " + b.d.quoteIdent(p.Key))
			continue
		}
		_, isList := items(p.Value)
		_, isMap := entries(p.Value)
		if !isList && !isMap {
			return malformed(Map{p}, "field %q maps to %T, expected an alias or a field list", p.Key, p.Value)
		}
		if err := b.collect(p.Value, p.Key, add); err != nil {
			return err
		}
	}
	return nil
}
