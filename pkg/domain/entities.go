// Package domain defines the entity keys, request lifecycle records and
// pagination value types shared by the console cache layers.
package domain

import "sort"

// EntityKey identifies an entity table in the normalized cache.
type EntityKey string

// Entity tables known to the console. Additional keys may be registered at
// runtime through the schema registry.
const (
	// EntityApplication identifies an application record.
	EntityApplication EntityKey = "application"
	// EntityStack identifies a buildpack stack record.
	EntityStack EntityKey = "stack"
	// EntitySpace identifies a space record.
	EntitySpace EntityKey = "space"
	// EntityOrganization identifies an organization record.
	EntityOrganization EntityKey = "organization"
	// EntityRoute identifies a route record.
	EntityRoute EntityKey = "route"
	// EntityEvent identifies an audit event record.
	EntityEvent EntityKey = "event"
	// EntityAppSummary identifies an application summary keyed by app guid.
	EntityAppSummary EntityKey = "appSummary"
	// EntityAppStats identifies per-instance application stats keyed by app guid.
	EntityAppStats EntityKey = "appStats"
	// EntityAppEnvVars identifies application environment variables keyed by app guid.
	EntityAppEnvVars EntityKey = "appEnvVars"
	// EntityEndpoint identifies a registered backend endpoint (CNSI).
	EntityEndpoint EntityKey = "endpoint"
)

// Attributes holds the raw JSON-shaped fields of a single entity row.
type Attributes = map[string]any

// Tables maps an entity key to its id-keyed rows.
type Tables map[EntityKey]map[string]Attributes

// Entity is a single row addressed by (Key, ID).
type Entity struct {
	ID         string     `json:"id"`
	Key        EntityKey  `json:"key"`
	Attributes Attributes `json:"attributes"`
}

// Row returns the attributes stored for (key, id).
func (t Tables) Row(key EntityKey, id string) (Attributes, bool) {
	rows, ok := t[key]
	if !ok {
		return nil, false
	}
	row, ok := rows[id]
	return row, ok
}

// Count returns the total number of rows across all tables.
func (t Tables) Count() int {
	n := 0
	for _, rows := range t {
		n += len(rows)
	}
	return n
}

// Keys returns the table keys in lexical order.
func (t Tables) Keys() []EntityKey {
	keys := make([]EntityKey, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Normalized is the flattened form of an API payload: entity rows plus the
// ordered list of top-level ids the payload contained.
type Normalized struct {
	Entities Tables   `json:"entities"`
	Result   []string `json:"result"`
}

// EmptyNormalized returns a payload with no entities and an empty result.
func EmptyNormalized() Normalized {
	return Normalized{Entities: Tables{}, Result: []string{}}
}
