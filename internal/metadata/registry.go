package metadata

import (
	"fmt"
	"sort"
	"sync"

	"chaos-orm/internal/conventions"
)

// Registry holds the loaded entities and their relation descriptors.
// It is safe for concurrent use; Load swaps the whole content atomically.
type Registry struct {
	mu        sync.RWMutex
	entities  map[string]*Entity
	relations relationSet
}

func NewRegistry() *Registry {
	return &Registry{
		entities:  make(map[string]*Entity),
		relations: make(relationSet),
	}
}

// relationSet indexes relations by source entity, in declaration order.
type relationSet map[string][]*Relation

func (s relationSet) Relation(entity, name string) (*Relation, error) {
	for _, rel := range s[entity] {
		if rel.name == name {
			return rel, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrUnresolvedRelation, entity, name)
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// Entity returns the named entity or ErrUnknownEntity.
func (r *Registry) Entity(name string) (*Entity, error) {
	if e := r.GetEntity(name); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
}

// AllEntities returns all registered entities sorted by name.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities
}

// Relation returns the relation declared on entity under name.
func (r *Registry) Relation(entity, name string) (*Relation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relations.Relation(entity, name)
}

// Relations returns the relations declared on entity.
func (r *Registry) Relations(entity string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Relation(nil), r.relations[entity]...)
}

// Rules returns the rules declared on entity.
func (r *Registry) Rules(entity string) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.entities[entity]; e != nil {
		return e.Rules
	}
	return nil
}

// Load replaces all entities and builds their relation descriptors. Single
// hop relations are built first so through relations can resolve their
// pivot. The registry keeps copies with defaults filled in; the given
// entities are not modified. On error the registry keeps its previous
// content.
func (r *Registry) Load(entities []*Entity, conv conventions.Provider) error {
	byName := make(map[string]*Entity, len(entities))
	loaded := make([]*Entity, 0, len(entities))
	for _, declared := range entities {
		e := new(Entity)
		*e = *declared
		if e.Name == "" {
			return fmt.Errorf("%w: entity without a name", ErrConfig)
		}
		if _, dup := byName[e.Name]; dup {
			return fmt.Errorf("%w: duplicate entity %s", ErrConfig, e.Name)
		}
		if e.Table == "" {
			e.Table = e.Name
		}
		if e.PrimaryKey.Field == "" {
			pk, err := conv.Apply(conventions.PrimaryKey, e.Name)
			if err != nil {
				return fmt.Errorf("%w: entity %s: %w", ErrConfig, e.Name, err)
			}
			e.PrimaryKey.Field = pk
		}
		byName[e.Name] = e
		loaded = append(loaded, e)
	}

	set := make(relationSet)
	for _, through := range []bool{false, true} {
		for _, e := range loaded {
			for _, cfg := range e.Relations {
				if (cfg.Kind == HasManyThrough) != through {
					continue
				}
				if cfg.From == "" {
					cfg.From = e.Name
				}
				rel, err := NewRelation(cfg, conv, set)
				if err != nil {
					return err
				}
				if _, ok := byName[rel.to]; !ok {
					return &ConfigError{Relation: rel.from + "." + rel.name, Reason: "unknown target entity " + rel.to}
				}
				if _, err := set.Relation(rel.from, rel.name); err == nil {
					return &ConfigError{Relation: rel.from + "." + rel.name, Reason: "declared twice"}
				}
				set[rel.from] = append(set[rel.from], rel)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = byName
	r.relations = set
	return nil
}
