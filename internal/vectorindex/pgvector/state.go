package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/duckmesh/text2sql/internal/retrieval"
)

// StateStore keeps the indexed schema hash next to the chunks it describes.
type StateStore struct {
	db   *sql.DB
	name string
}

func NewStateStore(db *sql.DB, name string) *StateStore {
	if name == "" {
		name = DefaultTable
	}
	return &StateStore{db: db, name: name}
}

func (s *StateStore) Load(ctx context.Context) (retrieval.IndexState, bool, error) {
	var state retrieval.IndexState
	err := s.db.QueryRowContext(ctx, `
SELECT schema_hash, table_count, indexed_at
FROM text2sql_index_state
WHERE index_name = $1`, s.name).Scan(&state.SchemaHash, &state.TableCount, &state.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return retrieval.IndexState{}, false, nil
	}
	if err != nil {
		return retrieval.IndexState{}, false, fmt.Errorf("load index state: %w", err)
	}
	return state, true, nil
}

func (s *StateStore) Save(ctx context.Context, state retrieval.IndexState) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO text2sql_index_state (index_name, schema_hash, table_count, indexed_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (index_name) DO UPDATE
SET schema_hash = EXCLUDED.schema_hash, table_count = EXCLUDED.table_count, indexed_at = EXCLUDED.indexed_at`,
		s.name, state.SchemaHash, state.TableCount, state.IndexedAt)
	if err != nil {
		return fmt.Errorf("save index state: %w", err)
	}
	return nil
}

func (s *StateStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM text2sql_index_state WHERE index_name = $1`, s.name); err != nil {
		return fmt.Errorf("clear index state: %w", err)
	}
	return nil
}
