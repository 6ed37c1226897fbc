package metadata

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"chaos-orm/internal/conventions"
	"chaos-orm/internal/dialect"
)

type Kind string

const (
	BelongsTo      Kind = "belongsTo"
	HasOne         Kind = "hasOne"
	HasMany        Kind = "hasMany"
	HasManyThrough Kind = "hasManyThrough"
)

// Link is how the two sides of a relation are physically connected.
type Link string

const (
	LinkKey       Link = "key"
	LinkKeyList   Link = "keylist"
	LinkEmbedded  Link = "embedded"
	LinkContained Link = "contained"
)

// Mode is the strategy used to persist a through relation.
type Mode string

const (
	ModeDiff  Mode = "diff"
	ModeFlush Mode = "flush"
)

// Keys is the join pair: From on the source entity, To on the target.
type Keys struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Conditions is a condition tree that keeps its mapping order when decoded
// from YAML.
type Conditions struct {
	Tree any
}

func (c *Conditions) UnmarshalYAML(n *yaml.Node) error {
	tree, err := dialect.FromNode(n)
	if err != nil {
		return err
	}
	c.Tree = tree
	return nil
}

// RelationConfig is the declared (possibly partial) form of a relation.
type RelationConfig struct {
	Kind        Kind       `yaml:"kind" json:"kind"`
	Name        string     `yaml:"name" json:"name,omitempty"`
	From        string     `yaml:"from" json:"from,omitempty"`
	To          string     `yaml:"to" json:"to,omitempty"`
	Keys        *Keys      `yaml:"keys" json:"keys,omitempty"`
	Correlate   string     `yaml:"correlate" json:"correlate,omitempty"`
	Through     string     `yaml:"through" json:"through,omitempty"`
	Using       string     `yaml:"using" json:"using,omitempty"`
	Link        Link       `yaml:"link" json:"link,omitempty"`
	Mode        Mode       `yaml:"mode" json:"mode,omitempty"`
	Fields      []string   `yaml:"fields" json:"fields,omitempty"`
	Constraints Conditions `yaml:"constraints" json:"-"`
	Junction    bool       `yaml:"junction" json:"junction,omitempty"`
}

// Resolver looks up relations that are already built. Through relations
// need it to reach the pivot and the final target.
type Resolver interface {
	Relation(entity, name string) (*Relation, error)
}

// Relation is the immutable descriptor of an association between two
// entities. Build it with NewRelation.
type Relation struct {
	kind        Kind
	link        Link
	from        string
	to          string
	keys        Keys
	name        string
	correlate   string
	through     string
	using       string
	fields      []string
	constraints any
	mode        Mode
	junction    bool
}

// NewRelation validates cfg and fills the defaults from conv. No partially
// built relation is ever returned.
func NewRelation(cfg RelationConfig, conv conventions.Provider, resolver Resolver) (*Relation, error) {
	fail := func(format string, args ...any) (*Relation, error) {
		return nil, &ConfigError{Relation: cfg.From + "." + cfg.Name, Reason: fmt.Sprintf(format, args...)}
	}
	apply := func(kind conventions.Kind, name string) string {
		s, err := conv.Apply(kind, name)
		if err != nil {
			return ""
		}
		return s
	}

	switch cfg.Kind {
	case "":
		return fail("kind can't be empty")
	case BelongsTo, HasOne, HasMany, HasManyThrough:
	default:
		return fail("unknown kind %q", cfg.Kind)
	}
	if cfg.From == "" {
		return fail("from can't be empty")
	}
	if cfg.Kind == HasManyThrough && cfg.Through == "" {
		return fail("through can't be empty for a %s relation", HasManyThrough)
	}
	if cfg.Kind != HasManyThrough && cfg.To == "" {
		return fail("to can't be empty")
	}
	if cfg.Kind != HasManyThrough && (cfg.Through != "" || cfg.Using != "") {
		return fail("through and using only apply to %s", HasManyThrough)
	}

	r := &Relation{
		kind:        cfg.Kind,
		link:        cfg.Link,
		from:        cfg.From,
		to:          cfg.To,
		name:        cfg.Name,
		correlate:   cfg.Correlate,
		through:     cfg.Through,
		using:       cfg.Using,
		mode:        cfg.Mode,
		junction:    cfg.Junction && cfg.Kind == HasMany,
		constraints: cfg.Constraints.Tree,
	}
	if len(cfg.Fields) > 0 {
		r.fields = append([]string(nil), cfg.Fields...)
	}

	switch r.link {
	case "":
		r.link = LinkKey
	case LinkKey, LinkKeyList, LinkEmbedded, LinkContained:
	default:
		return fail("unknown link type %q", r.link)
	}
	switch r.mode {
	case "":
		r.mode = ModeDiff
	case ModeDiff, ModeFlush:
	default:
		return fail("unknown mode %q", r.mode)
	}

	if r.correlate == "" {
		r.correlate = apply(conventions.FieldName, r.from)
	}

	if r.kind == HasManyThrough {
		if r.using == "" && r.name == "" {
			return fail("through relation needs a name or a using relation")
		}
		if r.using == "" {
			r.using = apply(conventions.UsingName, r.name)
		}
		if resolver == nil {
			return fail("through relation %q can't be resolved without a registry", r.through)
		}
		relThrough, err := resolver.Relation(r.from, r.through)
		if err != nil {
			return nil, &ConfigError{Relation: cfg.From + "." + cfg.Name, Reason: "through relation", Err: err}
		}
		relUsing, err := resolver.Relation(relThrough.to, r.using)
		if err != nil {
			return nil, &ConfigError{Relation: cfg.From + "." + cfg.Name, Reason: "using relation", Err: err}
		}
		if r.to != "" && r.to != relUsing.to {
			return fail("to %q does not match %s.%s target %q", r.to, relThrough.to, r.using, relUsing.to)
		}
		r.to = relUsing.to
		r.keys = relUsing.keys
	} else {
		primaryKey := apply(conventions.PrimaryKey, "")
		if r.kind == BelongsTo {
			// the foreign key on this side names the target: image.gallery_id
			r.keys = Keys{From: apply(conventions.ForeignKey, r.to), To: primaryKey}
		} else {
			r.keys = Keys{From: primaryKey, To: apply(conventions.ForeignKey, r.from)}
		}
	}
	if cfg.Keys != nil {
		if cfg.Keys.From == "" || cfg.Keys.To == "" {
			return fail("keys need both sides, got %+v", *cfg.Keys)
		}
		r.keys = *cfg.Keys
	}
	if r.keys.From == "" || r.keys.To == "" {
		return fail("keys could not be derived")
	}

	if r.name == "" {
		r.name = apply(conventions.FieldName, r.to)
	}
	if r.name == "" {
		return fail("name could not be derived")
	}
	return r, nil
}

func (r *Relation) Kind() Kind          { return r.kind }
func (r *Relation) LinkType() Link      { return r.link }
func (r *Relation) From() string        { return r.from }
func (r *Relation) To() string          { return r.to }
func (r *Relation) Keys() Keys          { return r.keys }
func (r *Relation) FromKey() string     { return r.keys.From }
func (r *Relation) ToKey() string       { return r.keys.To }
func (r *Relation) Name() string        { return r.name }
func (r *Relation) Correlate() string   { return r.correlate }
func (r *Relation) Through() string     { return r.through }
func (r *Relation) Using() string       { return r.using }
func (r *Relation) Mode() Mode          { return r.mode }
func (r *Relation) Junction() bool      { return r.junction }
func (r *Relation) Constraints() any    { return r.constraints }

// Fields returns the projection restriction; nil means all fields.
func (r *Relation) Fields() []string {
	if r.fields == nil {
		return nil
	}
	return append([]string(nil), r.fields...)
}

// Many reports whether the relation attaches a collection.
func (r *Relation) Many() bool {
	return r.kind == HasMany || r.kind == HasManyThrough
}

// Accessor reads a named field; record.Record satisfies it.
type Accessor interface {
	Get(field string) any
}

// Match returns the join condition selecting the rows related to rec:
// {toKey: rec[fromKey]}.
func (r *Relation) Match(rec Accessor) dialect.Map {
	return dialect.M(r.keys.To, rec.Get(r.keys.From))
}

// Reference returns the attributes a source row needs to point at target:
// {fromKey: target[toKey]}. For a pivot's belongsTo relation these are the
// pivot columns that link it to target.
func (r *Relation) Reference(target Accessor) map[string]any {
	return map[string]any{r.keys.From: target.Get(r.keys.To)}
}

func (r *Relation) String() string {
	return fmt.Sprintf("%s %s.%s -> %s", r.kind, r.from, r.name, r.to)
}
