package snapshot

import (
	"context"
	"sync"

	"consolecore/internal/store"
)

var _ Sink = (*MemorySink)(nil)

// MemorySink keeps the encoded snapshot in process memory.
type MemorySink struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns an empty memory sink.
func NewMemory() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Driver() Driver { return DriverMemory }

func (m *MemorySink) Save(_ context.Context, snap store.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}

func (m *MemorySink) Load(context.Context) (store.Snapshot, bool, error) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()
	if data == nil {
		return store.Snapshot{}, false, nil
	}
	snap, err := decode(data)
	if err != nil {
		return store.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (m *MemorySink) Close() error { return nil }
