// Package proxy encodes the wire contract of the backend proxy: URL layout,
// target headers and the target-keyed response envelope.
package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"consolecore/pkg/domain"
)

// Request headers understood by the proxy.
const (
	// HeaderEndpointList names the comma separated endpoint guids a request
	// fans out to.
	HeaderEndpointList = "x-cap-cnsi-list"
	// HeaderPassthrough asks the proxy to forward the single target response
	// unwrapped.
	HeaderPassthrough = "x-cap-passthrough"
)

// Prefix holds the versions used to build proxy URLs.
type Prefix struct {
	ProxyVersion string `yaml:"proxyVersion"`
	APIVersion   string `yaml:"apiVersion"`
}

// DefaultPrefix is /pp/v1/proxy/v2.
func DefaultPrefix() Prefix {
	return Prefix{ProxyVersion: "v1", APIVersion: "v2"}
}

// ProxyPath returns /pp/{proxyVersion}/proxy/{apiVersion}/{resource}.
func (p Prefix) ProxyPath(resource string) string {
	return fmt.Sprintf("/pp/%s/proxy/%s/%s", p.ProxyVersion, p.APIVersion, strings.TrimPrefix(resource, "/"))
}

// PortalPath returns /pp/{proxyVersion}/{resource} for calls served by the
// proxy itself rather than forwarded.
func (p Prefix) PortalPath(resource string) string {
	return fmt.Sprintf("/pp/%s/%s", p.ProxyVersion, strings.TrimPrefix(resource, "/"))
}

// EndpointListHeader renders the registered endpoints as a header value.
func EndpointListHeader(endpoints []domain.Endpoint) string {
	guids := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Registered {
			guids = append(guids, ep.GUID)
		}
	}
	return strings.Join(guids, ",")
}

// StatusError is a non-2xx proxy response. Its message is the status line,
// e.g. "403 Forbidden".
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
}

// CheckResponse returns a StatusError for non-2xx responses.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(body)}
}

// EndpointError is a target that answered with an error envelope.
type EndpointError struct {
	GUID    string
	Message string
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s: %s.", e.GUID, e.Message)
}

// TargetsError is returned when every target of a response failed.
type TargetsError struct {
	Errors []*EndpointError
}

func (e *TargetsError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return "Error from cnsis: " + strings.Join(parts, ", ")
}

// Target is one entry of a multi-target response.
type Target struct {
	GUID    string
	Payload map[string]any
	Err     *EndpointError
}

// DecodeTargets parses a target-keyed response body. A body that is empty or
// not a JSON object yields no targets. Targets are ordered by guid.
func DecodeTargets(body []byte) []Target {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	out := make([]Target, 0, len(raw))
	for guid, msg := range raw {
		t := Target{GUID: guid}
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil || payload == nil {
			continue
		}
		t.Payload = payload
		if errVal, ok := payload["error"]; ok && truthy(errVal) {
			t.Err = &EndpointError{GUID: guid, Message: errorText(errVal)}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GUID < out[j].GUID })
	return out
}

// DecodePassthrough wraps an unwrapped single-target body as a target keyed
// by guid.
func DecodePassthrough(guid string, body []byte) []Target {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil
	}
	return []Target{{GUID: guid, Payload: payload}}
}

// Resources expands a target payload into completed resources. Collection
// envelopes yield their resources; anything else is a single resource.
func (t Target) Resources() (items []domain.Attributes, totalResults, totalPages int) {
	totalResults = intField(t.Payload, "total_results")
	totalPages = intField(t.Payload, "total_pages")
	if list, ok := t.Payload["resources"].([]any); ok {
		for _, item := range list {
			res, ok := item.(map[string]any)
			if !ok {
				continue
			}
			items = append(items, CompleteResource(res, t.GUID))
		}
		return items, totalResults, totalPages
	}
	return []domain.Attributes{CompleteResource(t.Payload, t.GUID)}, totalResults, totalPages
}

// CompleteResource gives a resource the {entity, metadata} shape and tags it
// with the endpoint it came from. Resources without metadata are wrapped.
func CompleteResource(res domain.Attributes, endpointGUID string) domain.Attributes {
	if res == nil {
		return nil
	}
	if md, ok := res["metadata"].(map[string]any); ok {
		entity, _ := res["entity"].(map[string]any)
		entity = domain.CloneAttributes(entity)
		if entity == nil {
			entity = domain.Attributes{}
		}
		entity["guid"] = md["guid"]
		entity["cfGuid"] = endpointGUID
		return domain.Attributes{"entity": entity, "metadata": domain.CloneAttributes(md)}
	}
	entity := domain.CloneAttributes(res)
	entity["cfGuid"] = endpointGUID
	return domain.Attributes{
		"entity":   entity,
		"metadata": domain.Attributes{"guid": res["guid"]},
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

func errorText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"status", "description", "error_code"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
