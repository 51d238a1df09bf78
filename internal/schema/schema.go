// Package schema describes entity shapes and their nested relations so API
// payloads can be flattened into per-key tables and rebuilt at read time.
package schema

import (
	"fmt"

	"consolecore/pkg/domain"
)

// Schema is implemented by Entity, Array and Object.
type Schema interface {
	normalize(value any, n *normalizer) any
	denormalize(value any, d *denormalizer) (any, bool)
}

// EntityOption configures an Entity schema.
type EntityOption func(*Entity)

// WithIDAttribute reads the entity id from a top-level string attribute.
func WithIDAttribute(attr string) EntityOption {
	return func(e *Entity) {
		e.idFunc = func(attrs domain.Attributes) string {
			s, _ := attrs[attr].(string)
			return s
		}
	}
}

// WithIDFunc supplies a custom id extractor.
func WithIDFunc(fn func(domain.Attributes) string) EntityOption {
	return func(e *Entity) { e.idFunc = fn }
}

// Entity is a schema whose values are stored in their own table.
type Entity struct {
	key        domain.EntityKey
	idFunc     func(domain.Attributes) string
	definition map[string]Schema
}

var (
	_ Schema = (*Entity)(nil)
	_ Schema = Array{}
	_ Schema = Object{}
)

// NewEntity builds an entity schema. Without an id option the id is read from
// metadata.guid, falling back to a top-level guid.
func NewEntity(key domain.EntityKey, definition map[string]Schema, opts ...EntityOption) *Entity {
	e := &Entity{key: key, idFunc: ResourceGUID}
	e.Define(definition)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Define replaces the relation definition. It lets schemas reference each
// other after construction.
func (e *Entity) Define(definition map[string]Schema) {
	e.definition = make(map[string]Schema, len(definition))
	for k, v := range definition {
		e.definition[k] = v
	}
}

// Key returns the table the entity is stored in.
func (e *Entity) Key() domain.EntityKey { return e.key }

// ID extracts the id of a raw entity.
func (e *Entity) ID(attrs domain.Attributes) string {
	if attrs == nil {
		return ""
	}
	return e.idFunc(attrs)
}

// ResourceGUID returns metadata.guid when present, otherwise guid.
func ResourceGUID(attrs domain.Attributes) string {
	if md, ok := attrs["metadata"].(map[string]any); ok {
		if guid, ok := md["guid"].(string); ok && guid != "" {
			return guid
		}
	}
	guid, _ := attrs["guid"].(string)
	return guid
}

func (e *Entity) normalize(value any, n *normalizer) any {
	attrs, ok := value.(map[string]any)
	if !ok {
		// already an id reference
		if id, isID := value.(string); isID {
			return id
		}
		return nil
	}
	id := e.ID(attrs)
	if id == "" {
		return nil
	}
	row := normalizeFields(attrs, e.definition, n)
	n.add(e.key, id, row)
	return id
}

func (e *Entity) denormalize(value any, d *denormalizer) (any, bool) {
	id, ok := value.(string)
	if !ok {
		if attrs, isMap := value.(map[string]any); isMap {
			id = e.ID(attrs)
		}
	}
	if id == "" {
		return nil, false
	}
	row, ok := d.tables.Row(e.key, id)
	if !ok {
		return nil, false
	}
	visit := visitKey{key: e.key, id: id}
	if d.visiting[visit] {
		return id, true
	}
	d.visiting[visit] = true
	defer delete(d.visiting, visit)
	return denormalizeFields(row, e.definition, d), true
}

// Array is a list of values sharing one schema.
type Array struct {
	Of Schema
}

// ArrayOf wraps a schema into a list schema.
func ArrayOf(s Schema) Array { return Array{Of: s} }

func (a Array) normalize(value any, n *normalizer) any {
	items, ok := asSlice(value)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if v := a.Of.normalize(item, n); v != nil {
			out = append(out, v)
		}
	}
	return out
}

func (a Array) denormalize(value any, d *denormalizer) (any, bool) {
	items, ok := asSlice(value)
	if !ok {
		return nil, false
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if v, ok := a.Of.denormalize(item, d); ok {
			out = append(out, v)
		}
	}
	return out, true
}

// Object is a plain nested object whose fields may hold relations. It is not
// stored in a table of its own.
type Object struct {
	Fields map[string]Schema
}

// ObjectOf builds an object schema.
func ObjectOf(fields map[string]Schema) Object { return Object{Fields: fields} }

func (o Object) normalize(value any, n *normalizer) any {
	attrs, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return normalizeFields(attrs, o.Fields, n)
}

func (o Object) denormalize(value any, d *denormalizer) (any, bool) {
	attrs, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	return denormalizeFields(attrs, o.Fields, d), true
}

func normalizeFields(attrs domain.Attributes, fields map[string]Schema, n *normalizer) domain.Attributes {
	row := domain.CloneAttributes(attrs)
	for field, s := range fields {
		v, present := row[field]
		if !present || v == nil {
			continue
		}
		if out := s.normalize(v, n); out != nil {
			row[field] = out
		} else {
			delete(row, field)
		}
	}
	return row
}

func denormalizeFields(attrs domain.Attributes, fields map[string]Schema, d *denormalizer) domain.Attributes {
	out := domain.CloneAttributes(attrs)
	for field, s := range fields {
		v, present := out[field]
		if !present || v == nil {
			continue
		}
		if resolved, ok := s.denormalize(v, d); ok {
			out[field] = resolved
		} else {
			delete(out, field)
		}
	}
	return out
}

func asSlice(value any) ([]any, bool) {
	switch t := value.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	default:
		return nil, false
	}
}

type normalizer struct {
	tables domain.Tables
}

func (n *normalizer) add(key domain.EntityKey, id string, row domain.Attributes) {
	rows, ok := n.tables[key]
	if !ok {
		rows = make(map[string]domain.Attributes)
		n.tables[key] = rows
	}
	if existing, ok := rows[id]; ok {
		rows[id] = domain.MergeAttributes(existing, row)
		return
	}
	rows[id] = row
}

type visitKey struct {
	key domain.EntityKey
	id  string
}

type denormalizer struct {
	tables   domain.Tables
	visiting map[visitKey]bool
}

// Normalize flattens a single raw entity or a list of raw entities. Items
// without an id are skipped.
func Normalize(input any, s Schema) (domain.Normalized, error) {
	out := domain.EmptyNormalized()
	n := &normalizer{tables: out.Entities}
	switch input.(type) {
	case nil:
		return out, nil
	case map[string]any, []any, []map[string]any:
	default:
		return out, fmt.Errorf("normalize: unsupported payload %T", input)
	}
	if _, isList := asSlice(input); isList {
		if _, isArray := s.(Array); !isArray {
			s = ArrayOf(s)
		}
	}
	switch v := s.normalize(input, n).(type) {
	case string:
		out.Result = append(out.Result, v)
	case []any:
		for _, item := range v {
			if id, ok := item.(string); ok {
				out.Result = append(out.Result, id)
			}
		}
	}
	return out, nil
}

// NormalizeList flattens a list of raw entities of one schema.
func NormalizeList(items []domain.Attributes, e *Entity) domain.Normalized {
	raw := make([]any, len(items))
	for i, item := range items {
		raw[i] = item
	}
	out, _ := Normalize(raw, e)
	return out
}

// Denormalize rebuilds the object graph for result, which is an id or a list
// of ids for entity schemas. Relations missing from tables are left out of
// the rebuilt objects. The bool is false when result itself cannot be
// resolved.
func Denormalize(result any, s Schema, tables domain.Tables) (any, bool) {
	d := &denormalizer{tables: tables, visiting: make(map[visitKey]bool)}
	if _, isList := asSlice(result); isList {
		if _, isArray := s.(Array); !isArray {
			s = ArrayOf(s)
		}
	}
	return s.denormalize(result, d)
}

// DenormalizeEntity resolves one entity by id.
func DenormalizeEntity(id string, e *Entity, tables domain.Tables) (domain.Attributes, bool) {
	v, ok := Denormalize(id, e, tables)
	if !ok {
		return nil, false
	}
	attrs, ok := v.(map[string]any)
	return attrs, ok
}

// DenormalizeList resolves ids in order, dropping the ones not cached.
func DenormalizeList(ids []string, e *Entity, tables domain.Tables) []domain.Attributes {
	out := make([]domain.Attributes, 0, len(ids))
	for _, id := range ids {
		if attrs, ok := DenormalizeEntity(id, e, tables); ok {
			out = append(out, attrs)
		}
	}
	return out
}
