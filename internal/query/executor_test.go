package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	result  Result
	err     error
	request Request
}

func (f *fakeEngine) Validate(context.Context, string) error { return nil }

func (f *fakeEngine) Execute(_ context.Context, request Request) (Result, error) {
	f.request = request
	return f.result, f.err
}

func TestExecutorFormatsRowsInColumnOrder(t *testing.T) {
	engine := &fakeEngine{result: Result{
		Columns: []string{"name", "total", "active", "created_at"},
		Rows: [][]any{
			{"acme", int64(200), true, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
			{"globex", nil, false, nil},
		},
	}}
	executor := NewExecutor(engine, nil)

	got, err := executor.Execute(context.Background(), "SELECT * FROM customers;")
	require.NoError(t, err)
	assert.Equal(t,
		`[{"name":"acme","total":200,"active":true,"created_at":"2024-01-02T00:00:00Z"},{"name":"globex","total":null,"active":false,"created_at":null}]`,
		got,
	)
	assert.Equal(t, "SELECT * FROM customers", engine.request.SQL)
	assert.Equal(t, DefaultMaxRows, engine.request.RowLimit)
}

func TestExecutorEmptyResultIsEmptyArray(t *testing.T) {
	executor := NewExecutor(&fakeEngine{result: Result{Columns: []string{"id"}}}, nil)
	got, err := executor.Execute(context.Background(), "SELECT id FROM t")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestExecutorPropagatesEngineErrors(t *testing.T) {
	boom := errors.New("connection refused")
	executor := NewExecutor(&fakeEngine{err: boom}, nil)
	_, err := executor.Execute(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, boom)

	_, err = executor.Execute(context.Background(), " ;")
	require.ErrorIs(t, err, ErrEmptySQL)
}

func TestStripTrailingSemicolonsAndRowLimit(t *testing.T) {
	assert.Equal(t, "SELECT 1", StripTrailingSemicolons(" SELECT 1 ;; "))
	assert.Equal(t, "SELECT * FROM (\nSELECT 1\n) AS q LIMIT 5", WithRowLimit("SELECT 1", 5))
	assert.Equal(t, "SELECT * FROM (\nSELECT id FROM users -- newest first\n) AS q LIMIT 5",
		WithRowLimit("SELECT id FROM users -- newest first", 5))
	assert.Equal(t, "SELECT 1", WithRowLimit("SELECT 1", 0))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}
