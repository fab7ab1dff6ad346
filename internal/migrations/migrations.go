// Package migrations owns the index database schema: the pgvector chunk
// table and the index state record.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	migrationTable    = "text2sql_schema_migrations"
	DefaultChunkTable = "text2sql_schema_chunks"

	chunkTablePlaceholder = "{{chunk_table}}"
)

var (
	migrationNamePattern = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)
	identifierPattern    = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

type Runner struct {
	fsys       fs.FS
	chunkTable string
}

type Option func(*Runner)

// WithChunkTable renders the chunk migrations against table instead of
// DefaultChunkTable.
func WithChunkTable(table string) Option {
	return func(r *Runner) {
		if table = strings.TrimSpace(table); table != "" {
			r.chunkTable = table
		}
	}
}

func NewRunner(opts ...Option) *Runner {
	runner := &Runner{fsys: embeddedFS, chunkTable: DefaultChunkTable}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

// Status reports one known migration and whether it has been applied.
type Status struct {
	Version int64
	Name    string
	Applied bool
}

func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	items, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}

	runCount := 0
	for _, item := range items {
		if applied[item.Version] {
			continue
		}
		if steps > 0 && runCount >= steps {
			break
		}
		if err := r.exec(ctx, db, item.Version, item.UpSQL, `INSERT INTO `+migrationTable+` (version) VALUES ($1)`); err != nil {
			return runCount, fmt.Errorf("apply migration %d: %w", item.Version, err)
		}
		runCount++
	}
	return runCount, nil
}

// Down rolls back the newest applied migrations. Zero steps means one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	items, applied, err := r.prepare(ctx, db)
	if err != nil {
		return 0, err
	}

	known := make(map[int64]bool, len(items))
	for _, item := range items {
		known[item.Version] = true
	}
	for version := range applied {
		if !known[version] {
			return 0, fmt.Errorf("applied migration %d is missing from source", version)
		}
	}

	runCount := 0
	for i := len(items) - 1; i >= 0 && runCount < steps; i-- {
		item := items[i]
		if !applied[item.Version] {
			continue
		}
		if err := r.exec(ctx, db, item.Version, item.DownSQL, `DELETE FROM `+migrationTable+` WHERE version = $1`); err != nil {
			return runCount, fmt.Errorf("rollback migration %d: %w", item.Version, err)
		}
		runCount++
	}
	return runCount, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]Status, error) {
	items, applied, err := r.prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(items))
	for _, item := range items {
		statuses = append(statuses, Status{Version: item.Version, Name: item.Name, Applied: applied[item.Version]})
	}
	return statuses, nil
}

func (r *Runner) prepare(ctx context.Context, db *sql.DB) ([]migration, map[int64]bool, error) {
	if !identifierPattern.MatchString(r.chunkTable) {
		return nil, nil, fmt.Errorf("invalid chunk table name %q", r.chunkTable)
	}
	items, err := loadMigrations(r.fsys)
	if err != nil {
		return nil, nil, err
	}
	for i := range items {
		items[i].UpSQL = r.render(items[i].UpSQL)
		items[i].DownSQL = r.render(items[i].DownSQL)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, nil, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	return items, applied, nil
}

func (r *Runner) render(script string) string {
	return strings.ReplaceAll(script, chunkTablePlaceholder, r.chunkTable)
}

// exec runs script and the bookkeeping statement in one transaction.
func (r *Runner) exec(ctx context.Context, db *sql.DB, version int64, script, mark string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, mark, version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int64]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]bool{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		matches := migrationNamePattern.FindStringSubmatch(path.Base(entry.Name()))
		if entry.IsDir() || matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version, Name: matches[2]}
			byVersion[version] = item
		}
		if matches[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	items := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		switch {
		case strings.TrimSpace(item.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		case strings.TrimSpace(item.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Version < items[j].Version })
	return items, nil
}
