package conversation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/duckmesh/text2sql/internal/intent"
	"github.com/duckmesh/text2sql/internal/llm"
)

// State is everything persisted for one thread. Messages only grow; the
// remaining fields describe the most recent turn.
type State struct {
	Messages        []llm.Message `json:"messages"`
	Intent          intent.Intent `json:"intent"`
	RejectionReason string        `json:"rejectionReason,omitempty"`
	Query           string        `json:"query,omitempty"`
	Result          string        `json:"result,omitempty"`
	Answer          string        `json:"answer,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (s *State) resetTurn() {
	s.Intent = intent.Intent{}
	s.RejectionReason = ""
	s.Query = ""
	s.Result = ""
	s.Answer = ""
}

func (s State) clone() State {
	s.Messages = slices.Clone(s.Messages)
	return s
}

// ThreadStore persists thread state by thread id. Implementations must be
// safe for concurrent use across distinct ids.
type ThreadStore interface {
	Load(ctx context.Context, threadID string) (State, bool, error)
	Save(ctx context.Context, threadID string, state State) error
	Delete(ctx context.Context, threadID string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, threadID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.threads[threadID]
	if !ok {
		return State{}, false, nil
	}
	return state.clone(), true, nil
}

func (m *MemoryStore) Save(_ context.Context, threadID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = state.clone()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
	return nil
}

// keyedMutex serializes work per key and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
