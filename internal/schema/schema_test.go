package schema

import (
	"errors"
	"reflect"
	"testing"

	"consolecore/pkg/domain"
)

func appPayload() map[string]any {
	return map[string]any{
		"metadata": map[string]any{"guid": "app-1"},
		"entity": map[string]any{
			"name": "demo",
			"stack": map[string]any{
				"metadata": map[string]any{"guid": "stack-1"},
				"entity":   map[string]any{"name": "cflinuxfs3"},
			},
			"space": map[string]any{
				"metadata": map[string]any{"guid": "space-1"},
				"entity": map[string]any{
					"name": "dev",
					"organization": map[string]any{
						"metadata": map[string]any{"guid": "org-1"},
						"entity":   map[string]any{"name": "acme"},
					},
				},
			},
			"routes": []any{
				map[string]any{"metadata": map[string]any{"guid": "route-1"}, "entity": map[string]any{"host": "demo"}},
				map[string]any{"entity": map[string]any{"host": "no-guid"}},
			},
		},
	}
}

func TestNormalizeNestedApplication(t *testing.T) {
	catalog := NewCatalog()
	app := catalog.MustLookup(domain.EntityApplication)

	out, err := Normalize(appPayload(), app)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !reflect.DeepEqual(out.Result, []string{"app-1"}) {
		t.Fatalf("unexpected result %v", out.Result)
	}
	row, ok := out.Entities.Row(domain.EntityApplication, "app-1")
	if !ok {
		t.Fatalf("application row missing")
	}
	entity := row["entity"].(map[string]any)
	if entity["stack"] != "stack-1" || entity["space"] != "space-1" {
		t.Fatalf("relations not replaced by ids: %v", entity)
	}
	if routes := entity["routes"].([]any); len(routes) != 1 || routes[0] != "route-1" {
		t.Fatalf("expected route without guid to be skipped, got %v", routes)
	}
	if _, ok := out.Entities.Row(domain.EntityOrganization, "org-1"); !ok {
		t.Fatalf("nested organization not normalized")
	}
	if got := out.Entities.Count(); got != 5 {
		t.Fatalf("expected 5 rows, got %d", got)
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	payload := appPayload()
	app := NewCatalog().MustLookup(domain.EntityApplication)
	if _, err := Normalize(payload, app); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	stack := payload["entity"].(map[string]any)["stack"]
	if _, ok := stack.(map[string]any); !ok {
		t.Fatalf("input payload was modified: %v", stack)
	}
}

func TestNormalizeListMergesDuplicates(t *testing.T) {
	e := NewEntity(domain.EntityEndpoint, nil, WithIDAttribute("guid"))
	out := NormalizeList([]domain.Attributes{
		{"guid": "a", "name": "one"},
		{"guid": "b"},
		{"guid": "a", "registered": true},
		{"name": "skipped"},
	}, e)
	if !reflect.DeepEqual(out.Result, []string{"a", "b", "a"}) {
		t.Fatalf("unexpected result %v", out.Result)
	}
	row, _ := out.Entities.Row(domain.EntityEndpoint, "a")
	if row["name"] != "one" || row["registered"] != true {
		t.Fatalf("duplicate rows not merged: %v", row)
	}
}

func TestNormalizeRejectsScalars(t *testing.T) {
	if _, err := Normalize("nope", NewEntity("x", nil)); err == nil {
		t.Fatalf("expected error for scalar payload")
	}
	out, err := Normalize(nil, NewEntity("x", nil))
	if err != nil || len(out.Result) != 0 {
		t.Fatalf("nil payload should normalize to empty, got %v %v", out, err)
	}
}

func TestDenormalizeRoundTrip(t *testing.T) {
	app := NewCatalog().MustLookup(domain.EntityApplication)
	out, err := Normalize(appPayload(), app)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	got, ok := DenormalizeEntity("app-1", app, out.Entities)
	if !ok {
		t.Fatalf("expected application to resolve")
	}
	entity := got["entity"].(map[string]any)
	space := entity["space"].(map[string]any)
	org := space["entity"].(map[string]any)["organization"].(map[string]any)
	if org["entity"].(map[string]any)["name"] != "acme" {
		t.Fatalf("organization not inlined: %v", org)
	}
	if routes := entity["routes"].([]any); len(routes) != 1 {
		t.Fatalf("unexpected routes %v", routes)
	}
}

func TestDenormalizeMissingRelation(t *testing.T) {
	app := NewCatalog().MustLookup(domain.EntityApplication)
	tables := domain.Tables{
		domain.EntityApplication: {
			"app-1": {
				"metadata": map[string]any{"guid": "app-1"},
				"entity": map[string]any{
					"name":   "demo",
					"stack":  "stack-missing",
					"routes": []any{"route-missing"},
				},
			},
		},
	}
	got, ok := DenormalizeEntity("app-1", app, tables)
	if !ok {
		t.Fatalf("expected application to resolve")
	}
	entity := got["entity"].(map[string]any)
	if _, present := entity["stack"]; present {
		t.Fatalf("missing relation should be absent, got %v", entity["stack"])
	}
	if routes := entity["routes"].([]any); len(routes) != 0 {
		t.Fatalf("missing list items should be dropped, got %v", routes)
	}
	if _, ok := DenormalizeEntity("app-2", app, tables); ok {
		t.Fatalf("unknown id should not resolve")
	}
}

func TestDenormalizeCycleKeepsID(t *testing.T) {
	a := NewEntity("a", nil, WithIDAttribute("id"))
	b := NewEntity("b", map[string]Schema{"a": a}, WithIDAttribute("id"))
	a.Define(map[string]Schema{"b": b})
	tables := domain.Tables{
		"a": {"1": {"id": "1", "b": "2"}},
		"b": {"2": {"id": "2", "a": "1"}},
	}
	got, ok := DenormalizeEntity("1", a, tables)
	if !ok {
		t.Fatalf("expected resolve")
	}
	inner := got["b"].(map[string]any)
	if inner["a"] != "1" {
		t.Fatalf("expected cycle to stop at raw id, got %v", inner["a"])
	}
}

func TestDenormalizeListKeepsOrder(t *testing.T) {
	e := NewEntity(domain.EntityEndpoint, nil, WithIDAttribute("guid"))
	tables := domain.Tables{domain.EntityEndpoint: {
		"a": {"guid": "a"}, "b": {"guid": "b"},
	}}
	got := DenormalizeList([]string{"b", "x", "a"}, e, tables)
	if len(got) != 2 || got[0]["guid"] != "b" || got[1]["guid"] != "a" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewCatalog()
	if _, err := r.Lookup("missing"); !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
	keys := r.Keys()
	if len(keys) != 10 || keys[0] != domain.EntityAppEnvVars {
		t.Fatalf("unexpected keys %v", keys)
	}
	stats := r.MustLookup(domain.EntityAppStats)
	if id := stats.ID(domain.Attributes{"guid": "app-1"}); id != "app-1" {
		t.Fatalf("expected guid fallback, got %q", id)
	}
}
