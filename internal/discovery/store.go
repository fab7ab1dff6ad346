package discovery

import (
	"context"
	"sync"

	"github.com/duckmesh/text2sql/internal/storage"
)

// Store holds a single active discovery record.
type Store interface {
	// Get reports a hit only when the stored record has schemaHash.
	Get(ctx context.Context, schemaHash string) (Record, bool, error)
	Set(ctx context.Context, record Record) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	record *Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context, schemaHash string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.record == nil || m.record.SchemaHash != schemaHash {
		return Record{}, false, nil
	}
	return *m.record, true, nil
}

func (m *MemoryStore) Set(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = &record
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = nil
	return nil
}

// ObjectStore persists the record as JSON so it survives restarts.
type ObjectStore struct {
	store storage.ObjectStore
	key   string
}

func NewObjectStore(store storage.ObjectStore) *ObjectStore {
	return &ObjectStore{store: store, key: storage.DiscoveryRecordKey()}
}

func (o *ObjectStore) Get(ctx context.Context, schemaHash string) (Record, bool, error) {
	var record Record
	found, err := storage.GetJSON(ctx, o.store, o.key, &record)
	if err != nil || !found || record.SchemaHash != schemaHash {
		return Record{}, false, err
	}
	return record, true, nil
}

func (o *ObjectStore) Set(ctx context.Context, record Record) error {
	return storage.PutJSON(ctx, o.store, o.key, record)
}

func (o *ObjectStore) Clear(ctx context.Context) error {
	return o.store.Delete(ctx, o.key)
}
