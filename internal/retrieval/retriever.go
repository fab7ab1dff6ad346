package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/duckmesh/text2sql/internal/schema"
	"github.com/duckmesh/text2sql/internal/vectorindex"
)

const DefaultTopK = 5

// Retriever finds the schema chunks most relevant to a question.
type Retriever struct {
	index  vectorindex.Index
	topK   int
	logger *slog.Logger
}

func NewRetriever(index vectorindex.Index, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Retriever{index: index, topK: topK, logger: logger}
}

// Retrieve returns the matched chunks joined in rank order. An empty string
// means nothing relevant is indexed.
func (r *Retriever) Retrieve(ctx context.Context, question string) (string, error) {
	matches, err := r.query(ctx, question)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		r.logger.WarnContext(ctx, "no relevant tables found")
		return "", nil
	}
	contents := make([]string, 0, len(matches))
	for rank, match := range matches {
		r.logger.DebugContext(ctx, "retrieved table",
			"rank", rank+1,
			"table", qualifiedName(match),
			"score", match.Score,
		)
		contents = append(contents, match.Content)
	}
	return strings.Join(contents, "\n"), nil
}

// RelevantTables returns the qualified names of the matched tables.
func (r *Retriever) RelevantTables(ctx context.Context, question string) ([]string, error) {
	matches, err := r.query(ctx, question)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		if name := qualifiedName(match); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (r *Retriever) query(ctx context.Context, question string) ([]vectorindex.Match, error) {
	ctx, span := observability.StartSpan(ctx, "retrieval.query")
	matches, err := r.index.Query(ctx, question, r.topK, map[string]string{"type": schema.ChunkType})
	observability.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("query schema index: %w", err)
	}
	observability.ObserveRetrieval(len(matches))
	return matches, nil
}

func qualifiedName(match vectorindex.Match) string {
	schemaName, table := match.Metadata["schema"], match.Metadata["table"]
	if schemaName == "" || table == "" {
		return ""
	}
	return schemaName + "." + table
}
