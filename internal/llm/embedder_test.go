package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/text2sql/internal/config"
)

func TestNewEmbedderUsesEmbeddingCredentials(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": []float32{0.25, 0.5}}},
			"usage":  map[string]int{"prompt_tokens": 2, "total_tokens": 2},
		})
	}))
	t.Cleanup(server.Close)

	embedder, err := NewEmbedder(config.AIConfig{
		Provider:          config.ProviderAnthropic,
		APIKey:            "sk-ant",
		BaseURL:           "http://127.0.0.1:1",
		EmbeddingProvider: config.ProviderOpenAI,
		EmbeddingModel:    "text-embedding-3-small",
		EmbeddingAPIKey:   "sk-embed",
		EmbeddingBaseURL:  server.URL,
	})
	require.NoError(t, err)

	vector, err := embedder.EmbedQuery(context.Background(), "orders by customer")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5}, vector)
	assert.Equal(t, "Bearer sk-embed", gotAuth)
	assert.Equal(t, "/embeddings", gotPath)
}

func TestNewEmbedderRejectsUnsupportedProvider(t *testing.T) {
	_, err := NewEmbedder(config.AIConfig{EmbeddingProvider: config.ProviderAnthropic})
	require.Error(t, err)
}
