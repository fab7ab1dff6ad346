package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duckmesh/text2sql/internal/observability"
)

// Provider loads the schema snapshot once and serves it until Refresh.
type Provider struct {
	introspector Introspector
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.RWMutex
	snapshot *Snapshot
}

func NewProvider(introspector Introspector, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Provider{introspector: introspector, logger: logger, now: time.Now}
}

func (p *Provider) Snapshot(ctx context.Context) (Snapshot, error) {
	p.mu.RLock()
	cached := p.snapshot
	p.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	return p.Refresh(ctx)
}

// Refresh re-reads the schema from the database and replaces the cached snapshot.
func (p *Provider) Refresh(ctx context.Context) (Snapshot, error) {
	if p.introspector == nil {
		return Snapshot{}, fmt.Errorf("schema introspector is required")
	}
	ctx, span := observability.StartSpan(ctx, "schema.refresh")
	tables, err := p.introspector.Tables(ctx)
	observability.EndSpan(span, err)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load database schema: %w", err)
	}

	snapshot := NewSnapshot(tables, p.now().UTC())
	p.mu.Lock()
	p.snapshot = &snapshot
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "schema snapshot loaded", "tables", len(tables), "schema_hash", snapshot.Hash)
	return snapshot, nil
}
