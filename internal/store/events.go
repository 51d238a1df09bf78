package store

import (
	"time"

	"consolecore/pkg/domain"
)

// Event is the closed set of changes the store folds. Only types in this
// package implement it.
type Event interface {
	event()
}

// RequestStarted marks a request as in flight.
type RequestStarted struct {
	Request domain.RequestDescriptor
}

// RequestSucceeded carries a normalized response for a completed request.
// Warnings lists the targets that failed while others succeeded.
type RequestSucceeded struct {
	Request      domain.RequestDescriptor
	Response     domain.Normalized
	TotalResults int
	TotalPages   int
	Warnings     []string
}

// RequestFailed records a failed request and its human readable message.
type RequestFailed struct {
	Request domain.RequestDescriptor
	Message string
}

// EntitiesMerged merges rows into the entity tables without touching
// request state.
type EntitiesMerged struct {
	Entities domain.Tables
}

// EntityRemoved deletes one entity row.
type EntityRemoved struct {
	Key domain.EntityKey
	ID  string
}

// PaginationCleared drops every pagination section of an entity key.
type PaginationCleared struct {
	Key domain.EntityKey
}

// PagesCleared drops the cached pages of one section and keeps its params.
type PagesCleared struct {
	Key           domain.EntityKey
	PaginationKey string
}

// PageSet moves a section to another page.
type PageSet struct {
	Key           domain.EntityKey
	PaginationKey string
	Page          int
}

// ParamsSet replaces the params of a section.
type ParamsSet struct {
	Key           domain.EntityKey
	PaginationKey string
	Params        domain.Params
}

// ParamsAdded merges params into a section. Values and filters with an
// existing key replace the old ones.
type ParamsAdded struct {
	Key           domain.EntityKey
	PaginationKey string
	Params        domain.Params
}

// ParamsRemoved deletes plain params and filters by key.
type ParamsRemoved struct {
	Key           domain.EntityKey
	PaginationKey string
	Params        []string
	Q             []string
}

// StateImported replaces the entity tables with a snapshot.
type StateImported struct {
	Entities domain.Tables
	TakenAt  time.Time
}

func (RequestStarted) event()    {}
func (RequestSucceeded) event()  {}
func (RequestFailed) event()     {}
func (EntitiesMerged) event()    {}
func (EntityRemoved) event()     {}
func (PaginationCleared) event() {}
func (PagesCleared) event()      {}
func (PageSet) event()           {}
func (ParamsSet) event()         {}
func (ParamsAdded) event()       {}
func (ParamsRemoved) event()     {}
func (StateImported) event()     {}
