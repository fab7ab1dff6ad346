package discovery

import (
	"context"
	"fmt"

	"github.com/duckmesh/text2sql/internal/schema"
)

type SchemaSource interface {
	Snapshot(ctx context.Context) (schema.Snapshot, error)
}

// Service resolves discovery content for the current schema snapshot.
type Service struct {
	source SchemaSource
	cache  *Cache
}

func NewService(source SchemaSource, cache *Cache) *Service {
	return &Service{source: source, cache: cache}
}

func (s *Service) Content(ctx context.Context) (Content, error) {
	snapshot, err := s.source.Snapshot(ctx)
	if err != nil {
		return Content{}, fmt.Errorf("load schema snapshot: %w", err)
	}
	return s.cache.GetOrCreate(ctx, snapshot.Text)
}
