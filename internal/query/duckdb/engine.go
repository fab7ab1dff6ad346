package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/duckmesh/text2sql/internal/query"
	"github.com/duckmesh/text2sql/internal/query/sqldb"
	"github.com/duckmesh/text2sql/internal/storage"
)

// Engine serves queries from a DuckDB database whose views are backed by
// parquet datasets fetched from the object store.
type Engine struct {
	*sqldb.Engine
	Store    storage.ObjectStore
	Datasets map[string]string

	workDir string
}

// Open opens the DuckDB database at path (in-memory when empty) and mounts
// every dataset as a view named after its key. A file-backed database is
// reopened with access_mode=READ_ONLY once the views exist.
func Open(ctx context.Context, path string, store storage.ObjectStore, datasets map[string]string) (*Engine, error) {
	if len(datasets) > 0 && store == nil {
		return nil, fmt.Errorf("object store is required for parquet datasets")
	}
	db, err := sqldb.Open(ctx, sqldb.DBConfig{Driver: "duckdb", DSN: path})
	if err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp("", "text2sql-duckdb-")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create dataset temp dir: %w", err)
	}

	engine := &Engine{
		Engine:   sqldb.NewEngine(db, false),
		Store:    store,
		Datasets: datasets,
		workDir:  workDir,
	}
	if err := engine.mount(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}
	if path == "" {
		return engine, nil
	}

	_ = db.Close()
	readOnly, err := sqldb.Open(ctx, sqldb.DBConfig{Driver: "duckdb", DSN: readOnlyDSN(path)})
	if err != nil {
		engine.DB = nil
		_ = engine.Close()
		return nil, fmt.Errorf("reopen read-only: %w", err)
	}
	engine.DB = readOnly
	return engine, nil
}

// mount downloads each dataset and replaces its view.
func (e *Engine) mount(ctx context.Context) error {
	names := make([]string, 0, len(e.Datasets))
	for name := range e.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	for index, name := range names {
		localPath := filepath.Join(e.workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(name), index))
		if err := e.download(ctx, e.Datasets[name], localPath); err != nil {
			return fmt.Errorf("dataset %q: %w", name, err)
		}

		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, query.QuoteIdent(name), quoteString(localPath))
		if _, err := e.DB.ExecContext(ctx, viewSQL); err != nil {
			return fmt.Errorf("create view for dataset %q: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) download(ctx context.Context, key, localPath string) error {
	reader, err := e.Store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get object %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", localPath, err)
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %q: %w", localPath, err)
	}
	return file.Close()
}

func (e *Engine) SQLDB() *sql.DB {
	return e.DB
}

func (e *Engine) Close() error {
	var closeErr error
	if e.DB != nil {
		closeErr = e.DB.Close()
	}
	if e.workDir != "" {
		_ = os.RemoveAll(e.workDir)
	}
	return closeErr
}

func readOnlyDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&access_mode=READ_ONLY"
	}
	return path + "?access_mode=READ_ONLY"
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "dataset"
	}
	return value
}
