package domain

import (
	"fmt"
	"strconv"
)

// Endpoint describes a backend (CNSI) the proxy can fan requests out to.
type Endpoint struct {
	GUID        string `json:"guid" yaml:"guid"`
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"cnsi_type" yaml:"type"`
	APIEndpoint string `json:"api_endpoint" yaml:"apiEndpoint"`
	Registered  bool   `json:"registered" yaml:"registered"`
}

// Attributes renders the endpoint as an entity row.
func (e Endpoint) Attributes() Attributes {
	return Attributes{
		"guid":         e.GUID,
		"name":         e.Name,
		"cnsi_type":    e.Type,
		"api_endpoint": e.APIEndpoint,
		"registered":   e.Registered,
	}
}

// EndpointFromAttributes reads an endpoint back from its entity row.
func EndpointFromAttributes(attrs Attributes) Endpoint {
	str := func(k string) string {
		s, _ := attrs[k].(string)
		return s
	}
	registered, _ := attrs["registered"].(bool)
	return Endpoint{
		GUID:        str("guid"),
		Name:        str("name"),
		Type:        str("cnsi_type"),
		APIEndpoint: str("api_endpoint"),
		Registered:  registered,
	}
}

// NotFoundError reports a missing entity row.
type NotFoundError struct {
	Entity EntityKey
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func itoa(n int) string { return strconv.Itoa(n) }
