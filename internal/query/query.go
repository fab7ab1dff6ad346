package query

import (
	"context"
	"errors"
	"time"
)

var ErrEmptySQL = errors.New("sql is required")

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Engine runs read-only SQL against a relational database.
type Engine interface {
	// Validate checks that sqlText plans successfully without executing it.
	Validate(ctx context.Context, sqlText string) error
	Execute(ctx context.Context, request Request) (Result, error)
}
