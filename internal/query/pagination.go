package query

import (
	"context"

	"consolecore/internal/effects"
	"consolecore/internal/schema"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

// PageView is the current page of a pagination section, denormalized.
type PageView struct {
	State    domain.PaginationState
	Entities []domain.Attributes
}

// PaginationMonitor drives one pagination section: it fetches the current
// page on demand and applies page and param changes.
type PaginationMonitor struct {
	pipe   Dispatcher
	action effects.Request
	entity *schema.Entity
	key    domain.EntityKey
	pagKey string
}

// NewPaginationMonitor builds a monitor for the section action fills.
// action must carry a pagination key.
func NewPaginationMonitor(pipe Dispatcher, action effects.Request) *PaginationMonitor {
	return &PaginationMonitor{
		pipe:   pipe,
		action: action,
		entity: action.Schema(),
		key:    action.Key(),
		pagKey: action.PaginationKey(),
	}
}

// PaginationKey returns the monitored section.
func (m *PaginationMonitor) PaginationKey() string { return m.pagKey }

func (m *PaginationMonitor) selectState(s store.State) domain.PaginationState {
	return store.SelectPaginationOrDefault(s, m.key, m.pagKey)
}

func (m *PaginationMonitor) selectPage(s store.State) PageView {
	p := m.selectState(s)
	view := PageView{State: p}
	if ids, ok := p.Page(p.CurrentPage); ok {
		view.Entities = schema.DenormalizeList(ids, m.entity, s.Entities)
	}
	return view
}

// State returns the section.
func (m *PaginationMonitor) State() domain.PaginationState {
	return m.selectState(m.pipe.Store().State())
}

// Page returns the current page.
func (m *PaginationMonitor) Page() PageView {
	return m.selectPage(m.pipe.Store().State())
}

// needsPage checks error first, then an in-flight fetch, then whether the
// current page is cached.
func (m *PaginationMonitor) needsPage(s store.State) bool {
	p := m.selectState(s)
	switch {
	case p.Error:
		return false
	case p.Fetching:
		return false
	case p.HasCurrentPage():
		return false
	}
	return true
}

// EnsurePage fetches the current page unless it is cached, in flight or
// errored. It reports whether a fetch was dispatched.
func (m *PaginationMonitor) EnsurePage(ctx context.Context) bool {
	_, ok := m.pipe.DispatchIf(ctx, m.action.Renewed(), m.needsPage)
	return ok
}

// Refresh drops the cached pages and refetches the current one.
func (m *PaginationMonitor) Refresh(ctx context.Context) error {
	if err := m.pipe.Store().Dispatch(store.PagesCleared{Key: m.key, PaginationKey: m.pagKey}); err != nil {
		return err
	}
	m.EnsurePage(ctx)
	return nil
}

// Watch streams the current page and fetches it whenever it goes missing,
// for example after a page change or a mutation cleared the section.
func (m *PaginationMonitor) Watch(ctx context.Context) <-chan PageView {
	in := Watch(ctx, m.pipe.Store(), m.selectPage, nil)
	out := make(chan PageView)
	go func() {
		defer close(out)
		for v := range in {
			if !v.State.HasCurrentPage() {
				m.EnsurePage(ctx)
			}
			select {
			case out <- v:
			case <-ctx.Done():
				for range in {
				}
				return
			}
		}
	}()
	return out
}

// SetPage moves to page n.
func (m *PaginationMonitor) SetPage(n int) error {
	return m.pipe.Store().Dispatch(store.PageSet{Key: m.key, PaginationKey: m.pagKey, Page: n})
}

// SetParams replaces the section params.
func (m *PaginationMonitor) SetParams(p domain.Params) error {
	return m.pipe.Store().Dispatch(store.ParamsSet{Key: m.key, PaginationKey: m.pagKey, Params: p})
}

// AddParams merges params into the section.
func (m *PaginationMonitor) AddParams(p domain.Params) error {
	return m.pipe.Store().Dispatch(store.ParamsAdded{Key: m.key, PaginationKey: m.pagKey, Params: p})
}

// RemoveParams removes plain params and q filters by key.
func (m *PaginationMonitor) RemoveParams(params []string, q []string) error {
	return m.pipe.Store().Dispatch(store.ParamsRemoved{Key: m.key, PaginationKey: m.pagKey, Params: params, Q: q})
}
