package sqldb

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/text2sql/internal/query"
)

func TestValidateRunsExplainInReadOnlyTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("EXPLAIN SELECT name FROM users")).
		WillReturnRows(sqlmock.NewRows([]string{"QUERY PLAN"}).AddRow("Seq Scan on users"))
	mock.ExpectRollback()

	engine := NewEngine(db, true)
	if err := engine.Validate(context.Background(), "SELECT name FROM users;"); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestValidateReturnsDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(regexp.QuoteMeta("EXPLAIN SELECT * FROM missing")).
		WillReturnError(errors.New(`relation "missing" does not exist`))

	engine := NewEngine(db, false)
	err = engine.Validate(context.Background(), "SELECT * FROM missing")
	if err == nil || err.Error() != `relation "missing" does not exist` {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsEmptySQL(t *testing.T) {
	engine := NewEngine(nil, false)
	if err := engine.Validate(context.Background(), " ; "); !errors.Is(err, query.ErrEmptySQL) {
		t.Fatalf("Validate() error = %v, want ErrEmptySQL", err)
	}
}

func TestExecuteWrapsRowLimitAndNormalizesValues(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM (\nSELECT id, name FROM users ORDER BY id\n) AS q LIMIT 10")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("ada")).
			AddRow(int64(2), "grace"))
	mock.ExpectRollback()

	engine := NewEngine(db, true)
	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT id, name FROM users ORDER BY id;", RowLimit: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || result.Rows[0][1] != "ada" {
		t.Fatalf("rows = %#v", result.Rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestOpenRequiresDSNForPostgres(t *testing.T) {
	if _, err := Open(context.Background(), DBConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := Open(context.Background(), DBConfig{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestValidateRejectsStackedStatementsWithoutQuerying(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	engine := NewEngine(db, false)
	if err := engine.Validate(context.Background(), "SELECT 1; DROP TABLE users"); !errors.Is(err, query.ErrNotReadOnly) {
		t.Fatalf("Validate() error = %v, want ErrNotReadOnly", err)
	}
	if _, err := engine.Execute(context.Background(), query.Request{SQL: "DELETE FROM users"}); !errors.Is(err, query.ErrNotReadOnly) {
		t.Fatalf("Execute() error = %v, want ErrNotReadOnly", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestExecuteReturnsDriverErrorUnwrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users")).WillReturnError(errors.New("connection reset"))

	executor := query.NewExecutor(NewEngine(db, false), nil)
	_, err = executor.Execute(context.Background(), "SELECT id FROM users")
	if err == nil || err.Error() != "execute query: connection reset" {
		t.Fatalf("Execute() error = %v", err)
	}
}
