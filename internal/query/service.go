package query

import (
	"context"
	"time"

	"consolecore/internal/effects"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

// RefreshKey is the updating key used by UpdateEntity.
const RefreshKey = "updating"

// EntityInfo pairs an entity with its lifecycle record.
type EntityInfo struct {
	Entity      domain.Attributes
	RequestInfo domain.RequestInfo
}

// Ready reports whether the entity is cached, not being deleted and not
// errored.
func (i EntityInfo) Ready() bool {
	return i.Entity != nil &&
		!i.RequestInfo.Deleting.Busy &&
		!i.RequestInfo.Deleting.Deleted &&
		!i.RequestInfo.Error
}

// EntityService fetches one entity on demand and exposes its view.
type EntityService struct {
	*EntityMonitor
	pipe   Dispatcher
	action effects.Request
}

// NewEntityService builds a service for the entity action fetches.
func NewEntityService(pipe Dispatcher, action effects.Request) *EntityService {
	return &EntityService{
		EntityMonitor: NewEntityMonitor(pipe.Store(), action.Schema(), action.GUID()),
		pipe:          pipe,
		action:        action,
	}
}

func (s *EntityService) selectInfo(st store.State) EntityInfo {
	return EntityInfo{Entity: s.selectEntity(st), RequestInfo: s.EntityMonitor.selectInfo(st)}
}

// Info returns the current entity and record.
func (s *EntityService) Info() EntityInfo {
	return s.selectInfo(s.store.State())
}

// needsFetch holds when nothing is cached, nothing is in flight and no
// terminal state was recorded.
func (s *EntityService) needsFetch(st store.State) bool {
	info := s.selectInfo(st)
	r := info.RequestInfo
	return info.Entity == nil &&
		!r.Fetching &&
		!r.Creating &&
		!r.Error &&
		!r.Deleting.Busy &&
		!r.Deleting.Deleted
}

// EnsureFetched dispatches the fetch when needed. Concurrent callers
// trigger at most one fetch. It reports whether this call dispatched.
func (s *EntityService) EnsureFetched(ctx context.Context) bool {
	_, ok := s.pipe.DispatchIf(ctx, s.action.Renewed(), s.needsFetch)
	return ok
}

// Watch fetches if needed and streams the entity and its record.
func (s *EntityService) Watch(ctx context.Context) <-chan EntityInfo {
	out := Watch(ctx, s.store, s.selectInfo, nil)
	s.EnsureFetched(ctx)
	return out
}

// WaitForEntity streams only ready states.
func (s *EntityService) WaitForEntity(ctx context.Context) <-chan EntityInfo {
	out := watch(ctx, s.store, s.selectInfo, nil, EntityInfo.Ready)
	s.EnsureFetched(ctx)
	return out
}

// WaitUntilReady fetches if needed and blocks until the entity is ready or
// ctx ends.
func (s *EntityService) WaitUntilReady(ctx context.Context) (EntityInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	select {
	case info, ok := <-s.WaitForEntity(ctx):
		if !ok {
			return EntityInfo{}, ctx.Err()
		}
		return info, nil
	case <-ctx.Done():
		return EntityInfo{}, ctx.Err()
	}
}

// UpdateEntity refetches the entity, tracked under RefreshKey so the cached
// entity stays readable meanwhile.
func (s *EntityService) UpdateEntity(ctx context.Context) domain.RequestDescriptor {
	return s.pipe.Dispatch(ctx, s.action.WithUpdatingKey(RefreshKey))
}

// Poll refetches the entity under updating key every interval until ctx
// ends. A tick is skipped while the previous refresh is still busy.
func (s *EntityService) Poll(ctx context.Context, interval time.Duration, key string) {
	if key == "" {
		key = RefreshKey
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pipe.DispatchIf(ctx, s.action.WithUpdatingKey(key), func(st store.State) bool {
				return !s.EntityMonitor.selectInfo(st).UpdateState(key).Busy
			})
		}
	}
}
