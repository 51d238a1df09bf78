package store

import "consolecore/pkg/domain"

// SelectEntity returns the raw row stored for (key, id).
func SelectEntity(s State, key domain.EntityKey, id string) (domain.Attributes, bool) {
	return s.Entities.Row(key, id)
}

// SelectEntities returns the rows of one table.
func SelectEntities(s State, key domain.EntityKey) map[string]domain.Attributes {
	return s.Entities[key]
}

// SelectRequestInfo returns the lifecycle record for (key, id), or the idle
// record when nothing was ever requested.
func SelectRequestInfo(s State, key domain.EntityKey, id string) domain.RequestInfo {
	if info, ok := s.Requests[key][id]; ok {
		return info
	}
	return domain.DefaultRequestInfo()
}

// SelectUpdateInfo returns the state of one named update operation.
func SelectUpdateInfo(s State, key domain.EntityKey, id, updatingKey string) domain.ActionState {
	return SelectRequestInfo(s, key, id).UpdateState(updatingKey)
}

// SelectPaginationState returns a pagination section. The bool is false when
// the section has never been touched.
func SelectPaginationState(s State, key domain.EntityKey, pagKey string) (domain.PaginationState, bool) {
	p, ok := s.Pagination[key][pagKey]
	return p, ok
}

// SelectPaginationOrDefault returns the section or the state a new section
// would start with.
func SelectPaginationOrDefault(s State, key domain.EntityKey, pagKey string) domain.PaginationState {
	if p, ok := s.Pagination[key][pagKey]; ok {
		return p
	}
	return s.defaultPagination()
}
