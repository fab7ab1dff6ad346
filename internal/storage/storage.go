// Package storage holds the object store abstraction shared by the DuckDB
// dataset mounts, the discovery cache and the index state record.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Get returns ErrObjectNotFound (possibly wrapped) for missing keys.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
}

// Checker reports whether a store is reachable.
type Checker interface {
	Check(ctx context.Context) error
}
