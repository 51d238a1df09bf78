package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"consolecore/pkg/domain"
)

// ErrUnknownSchema is returned when no schema is registered for a key.
var ErrUnknownSchema = errors.New("unknown schema")

// Registry maps entity keys to their schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[domain.EntityKey]*Entity
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[domain.EntityKey]*Entity)}
}

// Register adds or replaces the schema stored under its key.
func (r *Registry) Register(e *Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[e.Key()] = e
}

// Lookup returns the schema for key.
func (r *Registry) Lookup(key domain.EntityKey) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.schemas[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, key)
	}
	return e, nil
}

// MustLookup is Lookup for keys known at compile time.
func (r *Registry) MustLookup(key domain.EntityKey) *Entity {
	e, err := r.Lookup(key)
	if err != nil {
		panic(err)
	}
	return e
}

// Keys lists the registered keys in lexical order.
func (r *Registry) Keys() []domain.EntityKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]domain.EntityKey, 0, len(r.schemas))
	for k := range r.schemas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// NewCatalog returns a registry holding the console schemas. Cloud
// resources nest their relations under "entity"; per-application
// sub-resources are keyed by the application guid.
func NewCatalog() *Registry {
	stack := NewEntity(domain.EntityStack, nil)
	org := NewEntity(domain.EntityOrganization, nil)
	space := NewEntity(domain.EntitySpace, nil)
	route := NewEntity(domain.EntityRoute, nil)
	app := NewEntity(domain.EntityApplication, nil)
	event := NewEntity(domain.EntityEvent, nil)

	space.Define(map[string]Schema{
		"entity": ObjectOf(map[string]Schema{"organization": org}),
	})
	route.Define(map[string]Schema{
		"entity": ObjectOf(map[string]Schema{"space": space}),
	})
	app.Define(map[string]Schema{
		"entity": ObjectOf(map[string]Schema{
			"stack":  stack,
			"space":  space,
			"routes": ArrayOf(route),
		}),
	})

	r := NewRegistry()
	for _, e := range []*Entity{
		app, stack, space, org, route, event,
		NewEntity(domain.EntityAppSummary, nil, WithIDAttribute("guid")),
		NewEntity(domain.EntityAppStats, nil),
		NewEntity(domain.EntityAppEnvVars, nil, WithIDAttribute("guid")),
		NewEntity(domain.EntityEndpoint, nil, WithIDAttribute("guid")),
	} {
		r.Register(e)
	}
	return r
}
