package dialect

import (
	"fmt"
	"reflect"
	"sort"

	"gopkg.in/yaml.v3"
)

// Pair is one key/value entry of an ordered Map.
type Pair struct {
	Key   string
	Value any
}

// Map is an ordered mapping used to express names and condition trees.
// Rendering follows insertion order, which keeps output deterministic.
type Map []Pair

// M builds a Map from alternating keys and values.
//
//	dialect.M("field1", "value", "field2", 10)
//
// It panics on an odd argument count or a non-string key, the same way
// regexp.MustCompile panics on a bad pattern.
func M(kv ...any) Map {
	if len(kv)%2 != 0 {
		panic("dialect: M called with an odd number of arguments")
	}
	m := make(Map, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("dialect: M key %v is not a string", kv[i]))
		}
		m = append(m, Pair{Key: key, Value: kv[i+1]})
	}
	return m
}

// Get returns the value stored under key.
func (m Map) Get(key string) (any, bool) {
	for _, p := range m {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// With returns a copy of m with key set to value. An existing key keeps its
// position.
func (m Map) With(key string, value any) Map {
	out := make(Map, len(m), len(m)+1)
	copy(out, m)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Pair{Key: key, Value: value})
}

// Keys returns the keys of m in order.
func (m Map) Keys() []string {
	keys := make([]string, len(m))
	for i, p := range m {
		keys[i] = p.Key
	}
	return keys
}

// Name marks field as an identifier.
func Name(field string) Map { return Map{{Key: ":name", Value: field}} }

// Value marks v as a literal (or a bound parameter when rendering a query).
func Value(v any) Map { return Map{{Key: ":value", Value: v}} }

// Plain marks v, a string or a Statement, as raw SQL.
func Plain(v any) Map { return Map{{Key: ":plain", Value: v}} }

// entries normalizes the mapping forms accepted in trees. Go maps are
// iterated in sorted key order.
func entries(v any) (Map, bool) {
	switch m := v.(type) {
	case Map:
		return m, true
	case map[string]any:
		return sortedMap(m), true
	case map[string]string:
		generic := make(map[string]any, len(m))
		for k, s := range m {
			generic[k] = s
		}
		return sortedMap(generic), true
	}
	return nil, false
}

func sortedMap(m map[string]any) Map {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(Map, len(keys))
	for i, k := range keys {
		out[i] = Pair{Key: k, Value: m[k]}
	}
	return out
}

// items normalizes list forms. Any slice or array except []byte and Map
// counts as a list.
func items(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []byte, Map:
		return nil, false
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// operands splits an operator's argument into its operand list. A mapping
// yields one single-entry node per key.
func operands(v any) []any {
	if list, ok := items(v); ok {
		return list
	}
	if m, ok := entries(v); ok {
		out := make([]any, len(m))
		for i, p := range m {
			out[i] = Map{p}
		}
		return out
	}
	return []any{v}
}

// ParseTree decodes a YAML or JSON document into a tree made of Map, []any
// and scalars. Mapping key order is preserved.
func ParseTree(data []byte) (any, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse tree: %w", err)
	}
	return FromNode(&root)
}

// FromNode converts an already decoded YAML node, for use from custom
// yaml.Unmarshaler implementations.
func FromNode(n *yaml.Node) (any, error) {
	return fromNode(n)
}

func fromNode(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return fromNode(n.Content[0])
	case yaml.AliasNode:
		return fromNode(n.Alias)
	case yaml.MappingNode:
		m := make(Map, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := fromNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m = append(m, Pair{Key: n.Content[i].Value, Value: v})
		}
		return m, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("parse tree: line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("parse tree: unsupported node kind %d at line %d", n.Kind, n.Line)
}
