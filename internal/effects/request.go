package effects

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"consolecore/internal/schema"
	"consolecore/pkg/domain"
)

// Shape tells the pipeline how to turn target payloads into entities.
type Shape int

const (
	// ShapeResource treats payloads as cloud resources or collections of them.
	ShapeResource Shape = iota
	// ShapeRaw stores each target payload as one entity keyed by the request guid.
	ShapeRaw
	// ShapeNone ignores the body.
	ShapeNone
)

// Request is a request intent. The operation is fixed from the HTTP method
// when the request is built.
type Request struct {
	id            string
	schema        *schema.Entity
	method        string
	path          string
	op            domain.Operation
	guid          string
	params        url.Values
	body          []byte
	bodyErr       error
	contentType   string
	header        http.Header
	paginationKey string
	updatingKey   string
	endpoints     []string
	passthrough   bool
	portal        bool
	shape         Shape
	failMessage   string
}

// RequestOption configures a Request.
type RequestOption func(*Request)

// NewRequest builds a request for entities of schema s. path is relative to
// the proxy prefix.
func NewRequest(s *schema.Entity, method, path string, opts ...RequestOption) Request {
	r := Request{
		id:     uuid.NewString(),
		schema: s,
		method: strings.ToUpper(method),
		path:   path,
		op:     domain.OperationFromMethod(method),
		params: url.Values{},
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// WithGUID sets the id the request is tracked under.
func WithGUID(guid string) RequestOption {
	return func(r *Request) { r.guid = guid }
}

// WithParams adds explicit query parameters. They take precedence over
// pagination params, except for the page number.
func WithParams(params url.Values) RequestOption {
	return func(r *Request) {
		for k, vs := range params {
			for _, v := range vs {
				r.params.Add(k, v)
			}
		}
	}
}

// WithParam adds one query parameter.
func WithParam(key, value string) RequestOption {
	return func(r *Request) { r.params.Add(key, value) }
}

// WithJSONBody encodes v as the request body.
func WithJSONBody(v any) RequestOption {
	return func(r *Request) {
		r.body, r.bodyErr = json.Marshal(v)
		r.contentType = "application/json"
	}
}

// WithFormBody sends form-encoded values as the body.
func WithFormBody(values url.Values) RequestOption {
	return func(r *Request) {
		r.body = []byte(values.Encode())
		r.contentType = "application/x-www-form-urlencoded"
	}
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) { r.header.Set(key, value) }
}

// WithPagination makes the request fill the named pagination section.
func WithPagination(key string) RequestOption {
	return func(r *Request) { r.paginationKey = key }
}

// WithUpdatingKey tracks the request as a named update operation.
func WithUpdatingKey(key string) RequestOption {
	return func(r *Request) { r.updatingKey = key }
}

// WithEndpoints targets the given endpoint guids instead of every registered
// endpoint.
func WithEndpoints(guids ...string) RequestOption {
	return func(r *Request) {
		for _, g := range guids {
			if g != "" {
				r.endpoints = append(r.endpoints, g)
			}
		}
	}
}

// WithPassthrough asks the proxy for the unwrapped response of a single
// endpoint.
func WithPassthrough() RequestOption {
	return func(r *Request) { r.passthrough = true }
}

// WithShape selects how the response is turned into entities.
func WithShape(s Shape) RequestOption {
	return func(r *Request) { r.shape = s }
}

// WithPortalPath sends the request to the proxy's own API rather than
// forwarding it to endpoints.
func WithPortalPath() RequestOption {
	return func(r *Request) { r.portal = true }
}

// WithFailureMessage replaces the failure message recorded on error.
func WithFailureMessage(msg string) RequestOption {
	return func(r *Request) { r.failMessage = msg }
}

// ID returns the request correlation id.
func (r Request) ID() string { return r.id }

// Key returns the entity key the request is about.
func (r Request) Key() domain.EntityKey { return r.schema.Key() }

// GUID returns the tracked entity id.
func (r Request) GUID() string { return r.guid }

// Operation returns the operation derived from the HTTP method.
func (r Request) Operation() domain.Operation { return r.op }

// Schema returns the entity schema responses are normalized with.
func (r Request) Schema() *schema.Entity { return r.schema }

// PaginationKey returns the pagination section the request fills.
func (r Request) PaginationKey() string { return r.paginationKey }

// Endpoints returns the explicit endpoint targets.
func (r Request) Endpoints() []string { return append([]string(nil), r.endpoints...) }

// Descriptor returns the store-facing description of the request.
func (r Request) Descriptor() domain.RequestDescriptor {
	return domain.RequestDescriptor{
		ID:            r.id,
		Key:           r.Key(),
		GUID:          r.guid,
		Operation:     r.op,
		UpdatingKey:   r.updatingKey,
		PaginationKey: r.paginationKey,
	}
}

// WithUpdatingKey returns a copy tracked under a new id and updating key.
func (r Request) WithUpdatingKey(key string) Request {
	r.id = uuid.NewString()
	r.updatingKey = key
	return r
}

// Renewed returns a copy with a new correlation id, for dispatching the same
// intent again.
func (r Request) Renewed() Request {
	r.id = uuid.NewString()
	return r
}
