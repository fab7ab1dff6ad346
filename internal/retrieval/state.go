package retrieval

import (
	"context"
	"sync"
	"time"
)

// IndexState records which schema the semantic index currently holds.
type IndexState struct {
	SchemaHash string    `json:"schemaHash"`
	IndexedAt  time.Time `json:"indexedAt"`
	TableCount int       `json:"tableCount"`
}

type StateStore interface {
	Load(ctx context.Context) (IndexState, bool, error)
	Save(ctx context.Context, state IndexState) error
	Clear(ctx context.Context) error
}

type MemoryStateStore struct {
	mu    sync.Mutex
	state *IndexState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (m *MemoryStateStore) Load(context.Context) (IndexState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return IndexState{}, false, nil
	}
	return *m.state, true, nil
}

func (m *MemoryStateStore) Save(_ context.Context, state IndexState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

func (m *MemoryStateStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}
