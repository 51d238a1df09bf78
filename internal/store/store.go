package store

import (
	"sync"
	"time"

	"consolecore/pkg/domain"
)

// Option configures a Store.
type Option func(*Store)

// WithResultsPerPage sets the page size new pagination sections start with.
func WithResultsPerPage(n int) Option {
	return func(s *Store) { s.state = NewState(n) }
}

// WithClock overrides the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store owns the current state and serializes every fold. Readers get
// immutable snapshots; subscribers are told about each committed change.
type Store struct {
	mu      sync.Mutex
	state   State
	version uint64
	nextSub int
	subs    map[int]chan State
	now     func() time.Time
}

// Snapshot is the exportable part of the state: the entity tables.
// Request and pagination state is transient and never exported.
type Snapshot struct {
	Entities domain.Tables `json:"entities"`
	TakenAt  time.Time     `json:"taken_at"`
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		state: NewState(domain.DefaultResultsPerPage),
		subs:  make(map[int]chan State),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version increases by one for every committed Dispatch.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Dispatch folds events in order and commits them as one change. When any
// event fails to fold nothing is committed.
func (s *Store) Dispatch(events ...Event) error {
	_, err := s.DispatchIf(nil, events...)
	return err
}

// DispatchIf commits events only when guard accepts the current state. The
// check and the fold happen under one lock, so two callers racing on the same
// guard cannot both commit. A nil guard always passes.
func (s *Store) DispatchIf(guard func(State) bool, events ...Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if guard != nil && !guard(s.state) {
		return false, nil
	}
	if len(events) == 0 {
		return true, nil
	}
	next := s.state
	for _, ev := range events {
		var err error
		if next, err = Reduce(next, ev); err != nil {
			return false, err
		}
	}
	s.state = next
	s.version++
	s.publish(next)
	return true, nil
}

// Subscribe returns a channel receiving the latest state after each commit,
// primed with the current state. Slow readers only see the newest state. The
// returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 1)
	ch <- s.state
	s.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

// publish must be called with mu held.
func (s *Store) publish(st State) {
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// ExportState returns a deep copy of the entity tables.
func (s *Store) ExportState() Snapshot {
	st := s.State()
	return Snapshot{
		Entities: domain.MergeTables(domain.Tables{}, st.Entities),
		TakenAt:  s.now().UTC(),
	}
}

// ImportState replaces the entity tables with the snapshot contents.
func (s *Store) ImportState(snap Snapshot) error {
	return s.Dispatch(StateImported{Entities: snap.Entities, TakenAt: snap.TakenAt})
}
