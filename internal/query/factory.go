package query

import (
	"sync"

	"consolecore/internal/effects"
	"consolecore/pkg/domain"
)

type monitorKey struct {
	key    domain.EntityKey
	pagKey string
	uid    string
}

// Factory hands out query objects bound to one pipeline. Pagination
// monitors are shared per entity key, pagination key and uid.
type Factory struct {
	pipe Dispatcher

	mu       sync.Mutex
	monitors map[monitorKey]*PaginationMonitor
}

// NewFactory returns a factory over pipe.
func NewFactory(pipe Dispatcher) *Factory {
	return &Factory{pipe: pipe, monitors: make(map[monitorKey]*PaginationMonitor)}
}

// Entity returns a service for the entity action fetches.
func (f *Factory) Entity(action effects.Request) *EntityService {
	return NewEntityService(f.pipe, action)
}

// Pagination returns the monitor for action's section, creating it on first
// use. initial params, when given, are added only on creation.
func (f *Factory) Pagination(action effects.Request, uid string, initial *domain.Params) (*PaginationMonitor, error) {
	k := monitorKey{key: action.Key(), pagKey: action.PaginationKey(), uid: uid}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.monitors[k]; ok {
		return m, nil
	}
	m := NewPaginationMonitor(f.pipe, action)
	if initial != nil {
		if err := m.AddParams(*initial); err != nil {
			return nil, err
		}
	}
	f.monitors[k] = m
	return m, nil
}

// Len reports how many pagination monitors are cached.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.monitors)
}
