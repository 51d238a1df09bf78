package query

import (
	"context"

	"consolecore/internal/schema"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

// EntityMonitor derives the view of one entity and its lifecycle record.
type EntityMonitor struct {
	store  *store.Store
	entity *schema.Entity
	id     string
}

// NewEntityMonitor watches entity id of schema e.
func NewEntityMonitor(st *store.Store, e *schema.Entity, id string) *EntityMonitor {
	return &EntityMonitor{store: st, entity: e, id: id}
}

// ID returns the monitored id.
func (m *EntityMonitor) ID() string { return m.id }

// Key returns the monitored entity key.
func (m *EntityMonitor) Key() domain.EntityKey { return m.entity.Key() }

func (m *EntityMonitor) selectInfo(s store.State) domain.RequestInfo {
	return store.SelectRequestInfo(s, m.entity.Key(), m.id)
}

func (m *EntityMonitor) selectEntity(s store.State) domain.Attributes {
	attrs, _ := schema.DenormalizeEntity(m.id, m.entity, s.Entities)
	return attrs
}

// RequestInfo returns the current lifecycle record.
func (m *EntityMonitor) RequestInfo() domain.RequestInfo {
	return m.selectInfo(m.store.State())
}

// Entity returns the denormalized entity when it is cached.
func (m *EntityMonitor) Entity() (domain.Attributes, bool) {
	return schema.DenormalizeEntity(m.id, m.entity, m.store.State().Entities)
}

// IsFetching reports an in-flight fetch.
func (m *EntityMonitor) IsFetching() bool { return m.RequestInfo().Fetching }

// IsCreating reports an in-flight create.
func (m *EntityMonitor) IsCreating() bool { return m.RequestInfo().Creating }

// IsDeleting reports an in-flight delete.
func (m *EntityMonitor) IsDeleting() bool { return m.RequestInfo().Deleting.Busy }

// IsDeleted reports a completed delete.
func (m *EntityMonitor) IsDeleted() bool { return m.RequestInfo().Deleting.Deleted }

// HasErrored reports an error recorded while a delete is in flight and no
// fetch or create is running.
func (m *EntityMonitor) HasErrored() bool { return hasErrored(m.RequestInfo()) }

func hasErrored(info domain.RequestInfo) bool {
	return info.Error && info.Deleting.Busy && !info.Creating && !info.Fetching
}

// StatusMessage returns the last recorded message.
func (m *EntityMonitor) StatusMessage() string { return m.RequestInfo().Message }

// UpdateState returns the state of one named update.
func (m *EntityMonitor) UpdateState(key string) domain.ActionState {
	return m.RequestInfo().UpdateState(key)
}

// WatchRequestInfo streams the lifecycle record.
func (m *EntityMonitor) WatchRequestInfo(ctx context.Context) <-chan domain.RequestInfo {
	return Watch(ctx, m.store, m.selectInfo, nil)
}

// WatchEntity streams the denormalized entity. Absence is never emitted.
func (m *EntityMonitor) WatchEntity(ctx context.Context) <-chan domain.Attributes {
	return watch(ctx, m.store, m.selectEntity, nil, func(a domain.Attributes) bool { return a != nil })
}

// WatchFetching streams the fetching flag.
func (m *EntityMonitor) WatchFetching(ctx context.Context) <-chan bool {
	return m.watchFlag(ctx, func(i domain.RequestInfo) bool { return i.Fetching })
}

// WatchDeleting streams the deleting flag.
func (m *EntityMonitor) WatchDeleting(ctx context.Context) <-chan bool {
	return m.watchFlag(ctx, func(i domain.RequestInfo) bool { return i.Deleting.Busy })
}

// WatchErrored streams HasErrored.
func (m *EntityMonitor) WatchErrored(ctx context.Context) <-chan bool {
	return m.watchFlag(ctx, hasErrored)
}

// WatchUpdate streams the state of one named update.
func (m *EntityMonitor) WatchUpdate(ctx context.Context, key string) <-chan domain.ActionState {
	return Watch(ctx, m.store, func(s store.State) domain.ActionState {
		return m.selectInfo(s).UpdateState(key)
	}, func(a, b domain.ActionState) bool { return a == b })
}

func (m *EntityMonitor) watchFlag(ctx context.Context, flag func(domain.RequestInfo) bool) <-chan bool {
	return Watch(ctx, m.store, func(s store.State) bool {
		return flag(m.selectInfo(s))
	}, func(a, b bool) bool { return a == b })
}
