package vectorindex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder scores text by the presence of a few fixed words.
type keywordEmbedder struct {
	queries int
}

var vocabulary = []string{"users", "orders", "invoices", "email"}

func (k *keywordEmbedder) embed(text string) []float32 {
	lower := strings.ToLower(text)
	vector := make([]float32, len(vocabulary))
	for i, word := range vocabulary {
		vector[i] = float32(strings.Count(lower, word))
	}
	return vector
}

func (k *keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = k.embed(text)
	}
	return vectors, nil
}

func (k *keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	k.queries++
	return k.embed(text), nil
}

func seed(t *testing.T, index *Memory) {
	t.Helper()
	require.NoError(t, index.Upsert(context.Background(), []Document{
		{ID: "table:public.users", Content: "- public.users\n  - email: text", Metadata: map[string]string{"type": "schema", "table": "users"}},
		{ID: "table:public.orders", Content: "- public.orders\n  - user_id: integer -> users", Metadata: map[string]string{"type": "schema", "table": "orders"}},
		{ID: "table:public.invoices", Content: "- public.invoices", Metadata: map[string]string{"type": "schema", "table": "invoices"}},
		{ID: "note:1", Content: "users love orders", Metadata: map[string]string{"type": "note"}},
	}))
}

func TestMemoryQueryRanksBySimilarityWithinFilter(t *testing.T) {
	index := NewMemory(&keywordEmbedder{})
	seed(t, index)

	matches, err := index.Query(context.Background(), "users by email", 2, map[string]string{"type": "schema"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "table:public.users", matches[0].ID)
	assert.Equal(t, "table:public.orders", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemoryDeleteWhereOnlyRemovesMatchingDocuments(t *testing.T) {
	index := NewMemory(&keywordEmbedder{})
	seed(t, index)

	deleted, err := index.DeleteWhere(context.Background(), map[string]string{"type": "schema"})
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Equal(t, 1, index.Len())
}

func TestMemoryUpsertReplacesByID(t *testing.T) {
	index := NewMemory(&keywordEmbedder{})
	seed(t, index)
	require.NoError(t, index.Upsert(context.Background(), []Document{
		{ID: "table:public.invoices", Content: "- public.invoices email email", Metadata: map[string]string{"type": "schema"}},
	}))
	assert.Equal(t, 4, index.Len())

	matches, err := index.Query(context.Background(), "email", 1, map[string]string{"type": "schema"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "- public.invoices email email", matches[0].Content)
}

func TestMemoryQueryOnEmptyIndexSkipsEmbedding(t *testing.T) {
	embedder := &keywordEmbedder{}
	index := NewMemory(embedder)
	matches, err := index.Query(context.Background(), "users", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Zero(t, embedder.queries)
}

func TestValidateRejectsMissingAndDuplicateIDs(t *testing.T) {
	err := Validate([]Document{{Content: "x"}})
	assert.True(t, errors.Is(err, ErrInvalidDocument))
	err = Validate([]Document{{ID: "a"}, {ID: "a"}})
	assert.True(t, errors.Is(err, ErrInvalidDocument))
	assert.NoError(t, Validate([]Document{{ID: "a"}, {ID: "b"}}))
}
