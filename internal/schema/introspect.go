package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/duckmesh/text2sql/internal/config"
	"github.com/duckmesh/text2sql/internal/observability"
	"github.com/duckmesh/text2sql/internal/query"
)

// InternalTablePrefix marks tables owned by this service; they never appear
// in a snapshot.
const InternalTablePrefix = "text2sql_"

type Introspector interface {
	Tables(ctx context.Context) ([]Table, error)
}

type dialectQueries struct {
	tables  string
	columns string
	indexes string
}

var postgresQueries = dialectQueries{
	tables: `
SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
  AND table_type = 'BASE TABLE'
ORDER BY table_schema, table_name`,
	columns: `
SELECT
  c.column_name,
  c.data_type,
  c.is_nullable = 'YES' AS nullable,
  EXISTS (
    SELECT 1
    FROM information_schema.key_column_usage k
    JOIN information_schema.table_constraints tc
      ON tc.constraint_schema = k.constraint_schema
     AND tc.constraint_name = k.constraint_name
    WHERE tc.constraint_type = 'PRIMARY KEY'
      AND k.table_schema = c.table_schema
      AND k.table_name = c.table_name
      AND k.column_name = c.column_name
  ) AS is_pk,
  fk.ref_table IS NOT NULL AS is_fk,
  COALESCE(fk.ref_schema, ''),
  COALESCE(fk.ref_table, ''),
  COALESCE(fk.ref_column, '')
FROM information_schema.columns c
LEFT JOIN LATERAL (
  SELECT ccu.table_schema AS ref_schema, ccu.table_name AS ref_table, ccu.column_name AS ref_column
  FROM information_schema.key_column_usage k
  JOIN information_schema.table_constraints tc
    ON tc.constraint_schema = k.constraint_schema
   AND tc.constraint_name = k.constraint_name
   AND tc.constraint_type = 'FOREIGN KEY'
  JOIN information_schema.constraint_column_usage ccu
    ON ccu.constraint_schema = tc.constraint_schema
   AND ccu.constraint_name = tc.constraint_name
  WHERE k.table_schema = c.table_schema
    AND k.table_name = c.table_name
    AND k.column_name = c.column_name
  LIMIT 1
) fk ON TRUE
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`,
	indexes: `
SELECT indexname, indexdef ILIKE '%UNIQUE%' AS is_unique
FROM pg_indexes
WHERE schemaname = $1 AND tablename = $2
ORDER BY indexname`,
}

var duckdbQueries = dialectQueries{
	tables: `
SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_catalog = current_database()
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
  AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_schema, table_name`,
	columns: `
SELECT
  c.column_name,
  c.data_type,
  c.is_nullable = 'YES' AS nullable,
  COALESCE(k.is_pk, false) AS is_pk,
  COALESCE(k.is_fk, false) AS is_fk,
  '',
  '',
  ''
FROM information_schema.columns c
LEFT JOIN (
  SELECT column_name,
         bool_or(constraint_type = 'PRIMARY KEY') AS is_pk,
         bool_or(constraint_type = 'FOREIGN KEY') AS is_fk
  FROM (
    SELECT unnest(constraint_column_names) AS column_name, constraint_type
    FROM duckdb_constraints()
    WHERE schema_name = $1 AND table_name = $2
  )
  GROUP BY column_name
) k ON k.column_name = c.column_name
WHERE c.table_catalog = current_database() AND c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`,
	indexes: `
SELECT index_name, is_unique
FROM duckdb_indexes()
WHERE schema_name = $1 AND table_name = $2
ORDER BY index_name`,
}

// SQLIntrospector reads table metadata from information_schema.
type SQLIntrospector struct {
	DB         *sql.DB
	Driver     string
	Schemas    []string
	SampleRows int
	Logger     *slog.Logger
}

func NewSQLIntrospector(db *sql.DB, cfg config.DatabaseConfig, logger *slog.Logger) *SQLIntrospector {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &SQLIntrospector{
		DB:         db,
		Driver:     cfg.Driver,
		Schemas:    cfg.Schemas,
		SampleRows: cfg.SampleRows,
		Logger:     logger,
	}
}

func (i *SQLIntrospector) queries() dialectQueries {
	if i.Driver == config.DriverDuckDB {
		return duckdbQueries
	}
	return postgresQueries
}

func (i *SQLIntrospector) Tables(ctx context.Context) ([]Table, error) {
	if i.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	q := i.queries()

	rows, err := i.DB.QueryContext(ctx, q.tables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var tables []Table
	for rows.Next() {
		var table Table
		if err := rows.Scan(&table.Schema, &table.Name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if i.include(table) {
			tables = append(tables, table)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	_ = rows.Close()

	for idx := range tables {
		table := &tables[idx]
		if table.Columns, err = i.columns(ctx, q.columns, table.Schema, table.Name); err != nil {
			return nil, err
		}
		if table.Indexes, err = i.indexes(ctx, q.indexes, table.Schema, table.Name); err != nil {
			return nil, err
		}
		table.SampleRows = i.sample(ctx, table.Schema, table.Name)
	}
	return tables, nil
}

func (i *SQLIntrospector) include(table Table) bool {
	if strings.HasPrefix(table.Name, InternalTablePrefix) {
		return false
	}
	return len(i.Schemas) == 0 || slices.Contains(i.Schemas, table.Schema)
}

func (i *SQLIntrospector) columns(ctx context.Context, statement, schemaName, tableName string) ([]Column, error) {
	rows, err := i.DB.QueryContext(ctx, statement, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("describe %s.%s: %w", schemaName, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []Column
	for rows.Next() {
		var column Column
		var refSchema, refTable, refColumn string
		if err := rows.Scan(&column.Name, &column.Type, &column.Nullable, &column.PrimaryKey, &column.ForeignKey, &refSchema, &refTable, &refColumn); err != nil {
			return nil, fmt.Errorf("scan column of %s.%s: %w", schemaName, tableName, err)
		}
		if refSchema != "" && refTable != "" && refColumn != "" {
			column.Ref = refSchema + "." + refTable + "." + refColumn
		}
		columns = append(columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %s.%s: %w", schemaName, tableName, err)
	}
	return columns, nil
}

func (i *SQLIntrospector) indexes(ctx context.Context, statement, schemaName, tableName string) ([]Index, error) {
	rows, err := i.DB.QueryContext(ctx, statement, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("list indexes of %s.%s: %w", schemaName, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var indexes []Index
	for rows.Next() {
		var index Index
		if err := rows.Scan(&index.Name, &index.Unique); err != nil {
			return nil, fmt.Errorf("scan index of %s.%s: %w", schemaName, tableName, err)
		}
		indexes = append(indexes, index)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes of %s.%s: %w", schemaName, tableName, err)
	}
	return indexes, nil
}

// sample returns up to SampleRows rows; failures only cost the sample.
func (i *SQLIntrospector) sample(ctx context.Context, schemaName, tableName string) []query.Record {
	if i.SampleRows <= 0 {
		return nil
	}
	statement := fmt.Sprintf("SELECT * FROM %s LIMIT %d", pgx.Identifier{schemaName, tableName}.Sanitize(), i.SampleRows)
	rows, err := i.DB.QueryContext(ctx, statement)
	if err != nil {
		i.Logger.DebugContext(ctx, "sample rows unavailable", "table", schemaName+"."+tableName, "error", err)
		return nil
	}
	defer func() { _ = rows.Close() }()

	columns, values, err := query.ScanRows(rows)
	if err != nil {
		i.Logger.DebugContext(ctx, "sample rows unavailable", "table", schemaName+"."+tableName, "error", err)
		return nil
	}
	return query.Records(columns, values)
}
