// Package discovery pregenerates and caches onboarding content for the
// connected database, keyed by the schema hash.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/duckmesh/text2sql/internal/schema"
)

const (
	MinExampleQuestions = 10
	MaxExampleQuestions = 15
)

var ErrInvalidContent = errors.New("invalid discovery content")

type Content struct {
	Description      string   `json:"description"`
	ExampleQuestions []string `json:"exampleQuestions"`
}

func (c Content) Validate() error {
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("%w: description is empty", ErrInvalidContent)
	}
	n := len(c.ExampleQuestions)
	if n < MinExampleQuestions || n > MaxExampleQuestions {
		return fmt.Errorf("%w: got %d example questions, want %d to %d", ErrInvalidContent, n, MinExampleQuestions, MaxExampleQuestions)
	}
	return nil
}

type Record struct {
	SchemaHash string    `json:"schemaHash"`
	Content    Content   `json:"content"`
	CachedAt   time.Time `json:"cachedAt"`
}

type Generator interface {
	Generate(ctx context.Context, schemaText string) (Content, error)
}

// Cache returns discovery content for a schema, generating it at most once
// per schema hash.
type Cache struct {
	store     Store
	generator Generator
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewCache(store Store, generator Generator, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Cache{store: store, generator: generator, logger: logger, now: time.Now}
}

func (c *Cache) GetOrCreate(ctx context.Context, schemaText string) (Content, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := schema.Hash(schemaText)
	record, found, err := c.store.Get(ctx, hash)
	switch {
	case err != nil:
		c.logger.WarnContext(ctx, "discovery cache read failed", "error", err)
	case found:
		observability.IncrementDiscoveryCache(true)
		c.logger.DebugContext(ctx, "discovery cache hit", "schema_hash", hash)
		return record.Content, nil
	}
	observability.IncrementDiscoveryCache(false)
	c.logger.InfoContext(ctx, "discovery cache miss, generating content", "schema_hash", hash)

	content, err := c.generator.Generate(ctx, schemaText)
	if err != nil {
		return Content{}, fmt.Errorf("generate discovery content: %w", err)
	}
	if err := content.Validate(); err != nil {
		return Content{}, err
	}

	record = Record{SchemaHash: hash, Content: content, CachedAt: c.now().UTC()}
	if err := c.store.Set(ctx, record); err != nil {
		c.logger.ErrorContext(ctx, "discovery cache write failed", "error", err)
	}
	return content, nil
}

// Clear drops the cached record so the next call regenerates.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Clear(ctx)
}

// LLMGenerator asks a language model for discovery content.
type LLMGenerator struct {
	model llm.StructuredInvoker
	now   func() time.Time
}

func NewLLMGenerator(model llm.StructuredInvoker) *LLMGenerator {
	return &LLMGenerator{model: model, now: time.Now}
}

var contentSchema = llm.Schema{
	Name:        "discovery_content",
	Description: "Onboarding content describing what the database can answer.",
	Properties: []llm.Property{
		{Name: "description", Type: llm.TypeString, Required: true, Description: "One or two sentences describing the available data in business terms."},
		{Name: "exampleQuestions", Type: llm.TypeArray, Required: true, MinItems: MinExampleQuestions, MaxItems: MaxExampleQuestions, Description: "Ready-to-ask example questions."},
	},
}

func (g *LLMGenerator) Generate(ctx context.Context, schemaText string) (Content, error) {
	var content Content
	prompt := pregeneratePrompt(schemaText, g.now())
	if err := g.model.InvokeStructured(ctx, []llm.Message{llm.Human(prompt)}, contentSchema, &content); err != nil {
		return Content{}, err
	}
	return content, nil
}
