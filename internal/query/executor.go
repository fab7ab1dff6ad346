package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/duckmesh/text2sql/internal/observability"
)

const DefaultMaxRows = 1000

// Executor runs validated queries and renders their rows for answer prompts.
type Executor struct {
	Engine  Engine
	MaxRows int
	Logger  *slog.Logger
}

func NewExecutor(engine Engine, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Executor{Engine: engine, MaxRows: DefaultMaxRows, Logger: logger}
}

func (e *Executor) Execute(ctx context.Context, sqlText string) (string, error) {
	if e.Engine == nil {
		return "", fmt.Errorf("query engine is required")
	}
	sqlText = StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return "", ErrEmptySQL
	}

	ctx, span := observability.StartSpan(ctx, "query.execute")
	result, err := e.Engine.Execute(ctx, Request{SQL: sqlText, RowLimit: e.MaxRows})
	observability.EndSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("execute query: %w", err)
	}
	e.Logger.DebugContext(ctx, "query executed",
		"rows", len(result.Rows),
		"duration_ms", result.Duration.Round(time.Millisecond).Milliseconds(),
	)
	return FormatResult(result)
}
