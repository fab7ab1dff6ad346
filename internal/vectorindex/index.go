// Package vectorindex stores text documents with embeddings and metadata and
// answers similarity queries over them.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidDocument = errors.New("invalid document")

type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Match is a document ranked by similarity; higher scores rank first.
type Match struct {
	Document
	Score float64 `json:"score"`
}

type Index interface {
	Upsert(ctx context.Context, documents []Document) error
	// DeleteWhere removes documents whose metadata contains every filter pair.
	DeleteWhere(ctx context.Context, filter map[string]string) (int, error)
	Query(ctx context.Context, text string, topK int, filter map[string]string) ([]Match, error)
}

// MatchesFilter reports whether metadata contains every key/value of filter.
func MatchesFilter(metadata, filter map[string]string) bool {
	for key, value := range filter {
		if metadata[key] != value {
			return false
		}
	}
	return true
}

// Validate checks ids are present and unique within one upsert batch.
func Validate(documents []Document) error {
	seen := make(map[string]struct{}, len(documents))
	for _, doc := range documents {
		if doc.ID == "" {
			return fmt.Errorf("%w: id is required", ErrInvalidDocument)
		}
		if _, dup := seen[doc.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidDocument, doc.ID)
		}
		seen[doc.ID] = struct{}{}
	}
	return nil
}
