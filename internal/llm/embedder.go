package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/duckmesh/text2sql/internal/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns text into vectors for the schema index.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

func NewEmbedder(cfg config.AIConfig) (Embedder, error) {
	var (
		embedder embeddings.Embedder
		err      error
	)
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(cfg.EmbeddingModel)}
		if strings.TrimSpace(cfg.EmbeddingAPIKey) != "" {
			opts = append(opts, openai.WithToken(cfg.EmbeddingAPIKey))
		}
		if strings.TrimSpace(cfg.EmbeddingBaseURL) != "" {
			opts = append(opts, openai.WithBaseURL(cfg.EmbeddingBaseURL))
		}
		llm, openaiErr := openai.New(opts...)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		embedder, err = embeddings.NewEmbedder(llm)
	case config.ProviderOllama:
		serverURL := strings.TrimSpace(cfg.EmbeddingBaseURL)
		if serverURL == "" {
			serverURL = defaultOllamaURL
		}
		llm, ollamaErr := ollama.New(ollama.WithModel(cfg.EmbeddingModel), ollama.WithServerURL(serverURL))
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		embedder, err = embeddings.NewEmbedder(llm)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.EmbeddingProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", cfg.EmbeddingProvider, err)
	}
	return embedder, nil
}
