// Package store holds the normalized entity tables, the request lifecycle
// records and the pagination sections, and folds events into them.
package store

import (
	"errors"
	"fmt"
	"strings"

	"consolecore/pkg/domain"
)

// ErrUnknownEvent is returned when Reduce receives an event it cannot fold.
var ErrUnknownEvent = errors.New("unknown event")

// RequestTables maps an entity key to its id-keyed lifecycle records.
type RequestTables map[domain.EntityKey]map[string]domain.RequestInfo

// PaginationTables maps an entity key to its pagination sections.
type PaginationTables map[domain.EntityKey]map[string]domain.PaginationState

// State is an immutable snapshot. Reduce never modifies the maps of the state
// it receives; unchanged tables are shared between snapshots.
type State struct {
	Entities   domain.Tables
	Requests   RequestTables
	Pagination PaginationTables
	// ResultsPerPage is the page size new sections start with.
	ResultsPerPage int
}

// NewState returns an empty state.
func NewState(resultsPerPage int) State {
	if resultsPerPage <= 0 {
		resultsPerPage = domain.DefaultResultsPerPage
	}
	return State{
		Entities:       domain.Tables{},
		Requests:       RequestTables{},
		Pagination:     PaginationTables{},
		ResultsPerPage: resultsPerPage,
	}
}

// Reduce folds one event into s and returns the next state.
func Reduce(s State, e Event) (State, error) {
	switch ev := e.(type) {
	case RequestStarted:
		s.Requests = startRequest(s.Requests, ev.Request)
		s.Pagination = startPage(s, ev.Request)
	case RequestSucceeded:
		s.Entities = succeedEntities(s.Entities, ev)
		s.Requests = succeedRequest(s.Requests, ev)
		s.Pagination = succeedPage(s, ev)
	case RequestFailed:
		s.Requests = failRequest(s.Requests, ev)
		s.Pagination = failPage(s, ev)
	case EntitiesMerged:
		s.Entities = domain.MergeTables(s.Entities, ev.Entities)
	case EntityRemoved:
		s.Entities = removeEntity(s.Entities, ev.Key, ev.ID)
	case PaginationCleared:
		if _, ok := s.Pagination[ev.Key]; ok {
			s.Pagination = withPaginationKey(s.Pagination, ev.Key, map[string]domain.PaginationState{})
		}
	case PagesCleared:
		s.Pagination = clearPages(s, ev)
	case PageSet:
		s.Pagination = setPage(s, ev)
	case ParamsSet:
		s.Pagination = setParams(s, ev)
	case ParamsAdded:
		s.Pagination = addParams(s, ev)
	case ParamsRemoved:
		s.Pagination = removeParams(s, ev)
	case StateImported:
		s.Entities = domain.MergeTables(domain.Tables{}, ev.Entities)
	default:
		return s, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
	return s, nil
}

func warningMessage(warnings []string) string {
	return strings.Join(warnings, "; ")
}
