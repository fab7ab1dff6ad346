// Package pgvector persists the vector index in PostgreSQL with the pgvector
// extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/duckmesh/text2sql/internal/llm"
	"github.com/duckmesh/text2sql/internal/vectorindex"
)

const DefaultTable = "text2sql_schema_chunks"

type Store struct {
	db       *sql.DB
	table    string
	embedder llm.Embedder
}

func NewStore(db *sql.DB, table string, embedder llm.Embedder) *Store {
	if table == "" {
		table = DefaultTable
	}
	return &Store{db: db, table: pgx.Identifier{table}.Sanitize(), embedder: embedder}
}

func (s *Store) Upsert(ctx context.Context, documents []vectorindex.Document) error {
	if len(documents) == 0 {
		return nil
	}
	if err := vectorindex.Validate(documents); err != nil {
		return err
	}
	texts := make([]string, len(documents))
	for i, doc := range documents {
		texts[i] = doc.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(documents) {
		return fmt.Errorf("embed documents: got %d vectors for %d documents", len(vectors), len(documents))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statement := `
INSERT INTO ` + s.table + ` (id, content, metadata, embedding, updated_at)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT (id) DO UPDATE
SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at`
	now := time.Now().UTC()
	for i, doc := range documents {
		metadata, err := encodeMetadata(doc.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, statement, doc.ID, doc.Content, metadata, pgv.NewVector(vectors[i]), now); err != nil {
			return fmt.Errorf("upsert document %q: %w", doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *Store) DeleteWhere(ctx context.Context, filter map[string]string) (int, error) {
	metadata, err := encodeMetadata(filter)
	if err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE metadata @> $1::jsonb`, metadata)
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete documents rows affected: %w", err)
	}
	return int(affected), nil
}

func (s *Store) Query(ctx context.Context, text string, topK int, filter map[string]string) ([]vectorindex.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	metadata, err := encodeMetadata(filter)
	if err != nil {
		return nil, err
	}
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
FROM `+s.table+`
WHERE metadata @> $2::jsonb
ORDER BY embedding <=> $1
LIMIT $3`, pgv.NewVector(vector), metadata, topK)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []vectorindex.Match
	for rows.Next() {
		var (
			match   vectorindex.Match
			rawMeta []byte
		)
		if err := rows.Scan(&match.ID, &match.Content, &rawMeta, &match.Score); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &match.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %q: %w", match.ID, err)
			}
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return matches, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(encoded), nil
}
