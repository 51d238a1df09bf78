// Package proxystub serves canned multi-endpoint responses in the shape of
// the console backend proxy. It backs tests and local development.
package proxystub

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"consolecore/pkg/domain"
)

// Endpoint is a fixture endpoint.
type Endpoint struct {
	GUID        string `yaml:"guid"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	APIEndpoint string `yaml:"api_endpoint"`
	Registered  bool   `yaml:"registered"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Failure makes one endpoint answer with an error envelope.
type Failure struct {
	Status      string `yaml:"status"`
	Description string `yaml:"description"`
}

// Fixtures is the stub's data set.
//
// Collections maps a collection path such as "apps" to the resources each
// endpoint holds. Raw maps a full resource path such as
// "apps/app-1/summary" to the payload each endpoint returns for it.
type Fixtures struct {
	Endpoints   []Endpoint                                `yaml:"endpoints"`
	Collections map[string]map[string][]domain.Attributes `yaml:"collections"`
	Raw         map[string]map[string]domain.Attributes   `yaml:"raw"`
	Failures    map[string]Failure                        `yaml:"failures"`
}

// ParseFixtures decodes YAML fixtures.
func ParseFixtures(data []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	f.Collections = normalizeCollections(f.Collections)
	f.Raw = normalizeRaw(f.Raw)
	return f, nil
}

// LoadFixtures reads YAML fixtures from path.
func LoadFixtures(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

func (f Fixtures) clone() Fixtures {
	out := Fixtures{
		Endpoints:   append([]Endpoint(nil), f.Endpoints...),
		Collections: map[string]map[string][]domain.Attributes{},
		Raw:         map[string]map[string]domain.Attributes{},
		Failures:    map[string]Failure{},
	}
	for name, byEndpoint := range f.Collections {
		cp := make(map[string][]domain.Attributes, len(byEndpoint))
		for guid, items := range byEndpoint {
			list := make([]domain.Attributes, len(items))
			for i, item := range items {
				list[i] = domain.CloneAttributes(item)
			}
			cp[guid] = list
		}
		out.Collections[name] = cp
	}
	for path, byEndpoint := range f.Raw {
		cp := make(map[string]domain.Attributes, len(byEndpoint))
		for guid, payload := range byEndpoint {
			cp[guid] = domain.CloneAttributes(payload)
		}
		out.Raw[path] = cp
	}
	for guid, failure := range f.Failures {
		out.Failures[guid] = failure
	}
	return out
}

// Mappings with non-string keys decode as map[any]any; they are rewritten to
// the JSON-compatible shape.
func normalizeCollections(in map[string]map[string][]domain.Attributes) map[string]map[string][]domain.Attributes {
	for _, byEndpoint := range in {
		for guid, items := range byEndpoint {
			for i, item := range items {
				items[i] = normalizeValue(item).(map[string]any)
			}
			byEndpoint[guid] = items
		}
	}
	return in
}

func normalizeRaw(in map[string]map[string]domain.Attributes) map[string]map[string]domain.Attributes {
	for _, byEndpoint := range in {
		for guid, payload := range byEndpoint {
			byEndpoint[guid] = normalizeValue(payload).(map[string]any)
		}
	}
	return in
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}
