package vectorindex

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/duckmesh/text2sql/internal/llm"
)

type memoryEntry struct {
	doc    Document
	vector []float32
}

// Memory is an in-process index ranked by cosine similarity.
type Memory struct {
	embedder llm.Embedder

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemory(embedder llm.Embedder) *Memory {
	return &Memory{embedder: embedder, entries: map[string]memoryEntry{}}
}

func (m *Memory) Upsert(ctx context.Context, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}
	if err := Validate(documents); err != nil {
		return err
	}
	texts := make([]string, len(documents))
	for i, doc := range documents {
		texts[i] = doc.Content
	}
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(documents) {
		return fmt.Errorf("embed documents: got %d vectors for %d documents", len(vectors), len(documents))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, doc := range documents {
		doc.Metadata = maps.Clone(doc.Metadata)
		m.entries[doc.ID] = memoryEntry{doc: doc, vector: vectors[i]}
	}
	return nil
}

func (m *Memory) DeleteWhere(_ context.Context, filter map[string]string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, entry := range m.entries {
		if MatchesFilter(entry.doc.Metadata, filter) {
			delete(m.entries, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) Query(ctx context.Context, text string, topK int, filter map[string]string) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	empty := len(m.entries) == 0
	m.mu.RUnlock()
	if empty {
		return nil, nil
	}

	queryVector, err := m.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.entries))
	for _, entry := range m.entries {
		if !MatchesFilter(entry.doc.Metadata, filter) {
			continue
		}
		matches = append(matches, Match{Document: entry.doc, Score: cosine(queryVector, entry.vector)})
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
