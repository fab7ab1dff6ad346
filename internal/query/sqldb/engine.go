package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/duckmesh/text2sql/internal/query"
)

// Engine executes queries over a database/sql handle. Only single SELECT
// statements are accepted. With ReadOnly set every statement runs inside a
// read-only transaction that is always rolled back.
type Engine struct {
	DB       *sql.DB
	ReadOnly bool
}

func NewEngine(db *sql.DB, readOnly bool) *Engine {
	return &Engine{DB: db, ReadOnly: readOnly}
}

func (e *Engine) Validate(ctx context.Context, sqlText string) error {
	sqlText = query.StripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return query.ErrEmptySQL
	}
	if err := query.CheckReadOnly(sqlText); err != nil {
		return err
	}
	return e.withConn(ctx, func(q queryer) error {
		rows, err := q.QueryContext(ctx, "EXPLAIN "+sqlText)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
		}
		return rows.Err()
	})
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := query.StripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, query.ErrEmptySQL
	}
	if err := query.CheckReadOnly(sqlText); err != nil {
		return query.Result{}, err
	}
	sqlText = query.WithRowLimit(sqlText, request.RowLimit)

	start := time.Now()
	var result query.Result
	err := e.withConn(ctx, func(q queryer) error {
		rows, err := q.QueryContext(ctx, sqlText)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		columns, values, err := query.ScanRows(rows)
		if err != nil {
			return err
		}
		result = query.Result{Columns: columns, Rows: values}
		return nil
	})
	if err != nil {
		return query.Result{}, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (e *Engine) withConn(ctx context.Context, fn func(queryer) error) error {
	if e.DB == nil {
		return fmt.Errorf("database is required")
	}
	if !e.ReadOnly {
		return fn(e.DB)
	}
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}
