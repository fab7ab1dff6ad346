package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/duckmesh/text2sql/internal/schema"
	"github.com/duckmesh/text2sql/internal/vectorindex"
)

// Summary describes the outcome of one Reindex call.
type Summary struct {
	SchemaHash string    `json:"schema_hash"`
	TableCount int       `json:"table_count"`
	Deleted    int       `json:"deleted"`
	Skipped    bool      `json:"skipped"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Indexer keeps the semantic index in step with the schema text. Chunks are
// replaced only when the schema hash changes.
type Indexer struct {
	index  vectorindex.Index
	state  StateStore
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

func NewIndexer(index vectorindex.Index, state StateStore, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Indexer{index: index, state: state, logger: logger, now: time.Now}
}

func (i *Indexer) Reindex(ctx context.Context, schemaText string) (summary Summary, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "retrieval.reindex")
	defer func() {
		if err == nil {
			observability.IncrementReindex(summary.Skipped)
		}
		observability.EndSpan(span, err)
	}()

	hash := schema.Hash(schemaText)
	current, found, err := i.state.Load(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load index state: %w", err)
	}
	if found && current.SchemaHash == hash {
		i.logger.InfoContext(ctx, "schema index up to date", "tables", current.TableCount, "schema_hash", hash)
		return Summary{SchemaHash: hash, TableCount: current.TableCount, Skipped: true, IndexedAt: current.IndexedAt}, nil
	}

	chunks := schema.Split(schemaText)
	if len(chunks) == 0 {
		i.logger.WarnContext(ctx, "no tables found in schema", "schema_hash", hash)
	}

	deleted, err := i.index.DeleteWhere(ctx, map[string]string{"type": schema.ChunkType})
	if err != nil {
		return Summary{}, fmt.Errorf("delete schema chunks: %w", err)
	}

	documents := make([]vectorindex.Document, 0, len(chunks))
	for _, chunk := range chunks {
		documents = append(documents, vectorindex.Document{ID: chunk.ID, Content: chunk.Content, Metadata: chunk.Metadata()})
	}
	if err := i.index.Upsert(ctx, documents); err != nil {
		return Summary{}, fmt.Errorf("upsert schema chunks: %w", err)
	}

	state := IndexState{SchemaHash: hash, IndexedAt: i.now().UTC(), TableCount: len(chunks)}
	if err := i.state.Save(ctx, state); err != nil {
		return Summary{}, fmt.Errorf("save index state: %w", err)
	}
	i.logger.InfoContext(ctx, "schema indexed", "tables", len(chunks), "deleted", deleted, "schema_hash", hash)
	return Summary{SchemaHash: hash, TableCount: len(chunks), Deleted: deleted, IndexedAt: state.IndexedAt}, nil
}

// State returns the last persisted index state.
func (i *Indexer) State(ctx context.Context) (IndexState, bool, error) {
	return i.state.Load(ctx)
}
