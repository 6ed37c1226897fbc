// Package conventions derives default schema names (tables, keys, relation
// fields) from entity type identifiers.
package conventions

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"
)

// Kind names one convention.
type Kind int

const (
	PrimaryKey Kind = iota
	Source
	ForeignKey
	FieldName
	UsingName
	Getter
	Setter
	numKinds
)

var kindNames = [...]string{
	PrimaryKey: "primaryKey",
	Source:     "source",
	ForeignKey: "foreignKey",
	FieldName:  "fieldName",
	UsingName:  "usingName",
	Getter:     "getter",
	Setter:     "setter",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind returns the Kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownConvention, name)
}

// ErrUnknownConvention is returned for a kind outside the fixed set or one
// with no registered rule.
var ErrUnknownConvention = errors.New("unknown convention")

// Rule maps a type identifier (or field name) to a derived name.
type Rule func(name string) string

// Provider applies naming conventions.
type Provider interface {
	Apply(kind Kind, name string) (string, error)
}

// Conventions is the default Provider. It is safe for concurrent use.
type Conventions struct {
	mu    sync.RWMutex
	rules map[Kind]Rule
}

// New returns Conventions with the default rules registered.
func New() *Conventions {
	c := &Conventions{rules: make(map[Kind]Rule, numKinds)}
	c.rules[PrimaryKey] = func(string) string { return "id" }
	c.rules[Source] = func(name string) string {
		return inflect.Underscore(Base(name))
	}
	c.rules[ForeignKey] = func(name string) string {
		return inflect.Singularize(inflect.Underscore(Base(name))) + "_id"
	}
	c.rules[FieldName] = func(name string) string {
		return inflect.Singularize(inflect.Underscore(Base(name)))
	}
	c.rules[UsingName] = func(name string) string {
		return inflect.Singularize(name)
	}
	c.rules[Getter] = func(name string) string {
		return "get" + inflect.Camelize(name)
	}
	c.rules[Setter] = func(name string) string {
		return "set" + inflect.Camelize(name)
	}
	return c
}

// Set registers fn for kind, replacing the current rule. A nil fn removes it.
func (c *Conventions) Set(kind Kind, fn Rule) error {
	if kind < 0 || kind >= numKinds {
		return fmt.Errorf("%w: %s", ErrUnknownConvention, kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.rules, kind)
		return nil
	}
	c.rules[kind] = fn
	return nil
}

// Apply runs the rule registered for kind.
func (c *Conventions) Apply(kind Kind, name string) (string, error) {
	c.mu.RLock()
	fn, ok := c.rules[kind]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownConvention, kind)
	}
	return fn(name), nil
}

// Kinds returns the registered kinds in declaration order.
func (c *Conventions) Kinds() []Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Kind, 0, len(c.rules))
	for k := Kind(0); k < numKinds; k++ {
		if _, ok := c.rules[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Base strips any package path or namespace from a type identifier:
// "app/model.MyPost" and `app\model\MyPost` both yield "MyPost".
func Base(name string) string {
	if i := strings.LastIndexAny(name, `./\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
