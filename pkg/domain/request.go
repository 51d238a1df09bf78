package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// Operation enumerates the request kinds tracked per entity.
type Operation int

const (
	// OpFetch reads an entity or a page of entities.
	OpFetch Operation = iota
	// OpCreate creates an entity.
	OpCreate
	// OpUpdate modifies an entity, optionally under a named operation key.
	OpUpdate
	// OpDelete removes an entity.
	OpDelete
)

// RootUpdatingKey is the operation key used for unnamed updates.
const RootUpdatingKey = "_root_"

var operationNames = [...]string{"fetch", "create", "update", "delete"}

func (o Operation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return fmt.Sprintf("operation(%d)", int(o))
	}
	return operationNames[o]
}

// MarshalText renders the operation name.
func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText parses an operation name produced by MarshalText.
func (o *Operation) UnmarshalText(text []byte) error {
	for i, name := range operationNames {
		if string(text) == name {
			*o = Operation(i)
			return nil
		}
	}
	return fmt.Errorf("unknown operation %q", string(text))
}

// Mutating reports whether a successful operation changes the membership or
// content of entity tables and therefore invalidates cached pages.
func (o Operation) Mutating() bool {
	return o == OpCreate || o == OpUpdate || o == OpDelete
}

// OperationFromMethod maps an HTTP method to an operation kind. Anything other
// than POST, PUT/PATCH or DELETE is a fetch.
func OperationFromMethod(method string) Operation {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return OpCreate
	case http.MethodPut, http.MethodPatch:
		return OpUpdate
	case http.MethodDelete:
		return OpDelete
	default:
		return OpFetch
	}
}

// ActionState tracks one named update operation.
type ActionState struct {
	Busy    bool   `json:"busy"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// DeleteActionState tracks the delete lifecycle of an entity.
type DeleteActionState struct {
	Busy    bool   `json:"busy"`
	Deleted bool   `json:"deleted"`
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// RequestInfo is the lifecycle record kept per (entity key, id).
type RequestInfo struct {
	Fetching bool                   `json:"fetching"`
	Creating bool                   `json:"creating"`
	Error    bool                   `json:"error"`
	Message  string                 `json:"message"`
	Deleting DeleteActionState      `json:"deleting"`
	Updating map[string]ActionState `json:"updating"`
	Response []string               `json:"response,omitempty"`
}

// DefaultRequestInfo returns the idle record with an empty root update slot.
func DefaultRequestInfo() RequestInfo {
	return RequestInfo{
		Updating: map[string]ActionState{RootUpdatingKey: {}},
	}
}

// Clone returns a deep copy of the record.
func (r RequestInfo) Clone() RequestInfo {
	out := r
	out.Updating = make(map[string]ActionState, len(r.Updating))
	for k, v := range r.Updating {
		out.Updating[k] = v
	}
	if r.Response != nil {
		out.Response = append([]string(nil), r.Response...)
	}
	return out
}

// UpdateState returns the state of the named update operation. Unknown keys
// report the idle state.
func (r RequestInfo) UpdateState(key string) ActionState {
	if key == "" {
		key = RootUpdatingKey
	}
	return r.Updating[key]
}

// Busy reports whether any operation on the record is in flight.
func (r RequestInfo) Busy() bool {
	if r.Fetching || r.Creating || r.Deleting.Busy {
		return true
	}
	for _, st := range r.Updating {
		if st.Busy {
			return true
		}
	}
	return false
}

// RequestDescriptor identifies what a request is about, independent of how it
// is sent over the wire.
type RequestDescriptor struct {
	ID            string    `json:"id"`
	Key           EntityKey `json:"key"`
	GUID          string    `json:"guid"`
	Operation     Operation `json:"operation"`
	UpdatingKey   string    `json:"updatingKey,omitempty"`
	PaginationKey string    `json:"paginationKey,omitempty"`
	// Page is the page a paginated fetch fills. Zero means the section's
	// current page when the request completes.
	Page int `json:"page,omitempty"`
}

// Tracked returns the operation and update key the request state reducer
// folds this request under. A named updating key always routes the request
// to updating[key], whatever the HTTP method was.
func (d RequestDescriptor) Tracked() (Operation, string) {
	switch {
	case d.UpdatingKey != "":
		return OpUpdate, d.UpdatingKey
	case d.Operation == OpUpdate:
		return OpUpdate, RootUpdatingKey
	default:
		return d.Operation, ""
	}
}

// Paginated reports whether the request fills a pagination section.
func (d RequestDescriptor) Paginated() bool {
	return d.PaginationKey != ""
}
