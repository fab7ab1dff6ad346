package schema

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/text2sql/internal/observability"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func columnRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"column_name", "data_type", "nullable", "is_pk", "is_fk", "ref_schema", "ref_table", "ref_column"})
}

func TestSQLIntrospectorReadsPostgresCatalog(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(postgresQueries.tables).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).
			AddRow("audit", "events").
			AddRow("public", "orders").
			AddRow("public", "text2sql_schema_chunks"))
	mock.ExpectQuery(postgresQueries.columns).WithArgs("public", "orders").
		WillReturnRows(columnRows().
			AddRow("id", "integer", false, true, false, "", "", "").
			AddRow("user_id", "integer", true, false, true, "public", "users", "id"))
	mock.ExpectQuery(postgresQueries.indexes).WithArgs("public", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"indexname", "is_unique"}).AddRow("orders_pkey", true))
	mock.ExpectQuery(`SELECT * FROM "public"."orders" LIMIT 3`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}).AddRow(int64(7), []byte("42")))

	introspector := &SQLIntrospector{DB: db, Driver: "postgres", Schemas: []string{"public"}, SampleRows: 3, Logger: observability.DiscardLogger()}
	tables, err := introspector.Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)

	orders := tables[0]
	assert.Equal(t, "public.orders", orders.QualifiedName())
	assert.Equal(t, []Column{
		{Name: "id", Type: "integer", PrimaryKey: true},
		{Name: "user_id", Type: "integer", Nullable: true, ForeignKey: true, Ref: "public.users.id"},
	}, orders.Columns)
	assert.Equal(t, []Index{{Name: "orders_pkey", Unique: true}}, orders.Indexes)
	require.Len(t, orders.SampleRows, 1)
	assert.Equal(t, []any{int64(7), "42"}, orders.SampleRows[0].Values)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLIntrospectorToleratesSampleFailure(t *testing.T) {
	db, mock := newSQLMock(t)

	mock.ExpectQuery(duckdbQueries.tables).
		WillReturnRows(sqlmock.NewRows([]string{"table_schema", "table_name"}).AddRow("main", "orders"))
	mock.ExpectQuery(duckdbQueries.columns).WithArgs("main", "orders").
		WillReturnRows(columnRows().AddRow("id", "BIGINT", true, false, false, "", "", ""))
	mock.ExpectQuery(duckdbQueries.indexes).WithArgs("main", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"index_name", "is_unique"}))
	mock.ExpectQuery(`SELECT * FROM "main"."orders" LIMIT 2`).WillReturnError(errors.New("permission denied"))

	introspector := &SQLIntrospector{DB: db, Driver: "duckdb", SampleRows: 2, Logger: observability.DiscardLogger()}
	tables, err := introspector.Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Empty(t, tables[0].SampleRows)
	assert.Empty(t, tables[0].Indexes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLIntrospectorPropagatesCatalogErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(postgresQueries.tables).WillReturnError(errors.New("connection refused"))

	_, err := (&SQLIntrospector{DB: db}).Tables(context.Background())
	require.ErrorContains(t, err, "connection refused")
}

type staticIntrospector struct {
	tables []Table
	calls  int
}

func (s *staticIntrospector) Tables(context.Context) ([]Table, error) {
	s.calls++
	return s.tables, nil
}

func TestProviderCachesUntilRefresh(t *testing.T) {
	introspector := &staticIntrospector{tables: fixtureTables()}
	provider := NewProvider(introspector, nil)
	provider.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	first, err := provider.Snapshot(context.Background())
	require.NoError(t, err)
	second, err := provider.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, introspector.calls)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, Hash(first.Text), first.Hash)

	introspector.tables = introspector.tables[:1]
	refreshed, err := provider.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, introspector.calls)
	assert.NotEqual(t, first.Hash, refreshed.Hash)
}
