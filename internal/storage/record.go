package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const jsonContentType = "application/json"

// DiscoveryRecordKey is the single active discovery record; a new schema hash
// overwrites it.
func DiscoveryRecordKey() string {
	return "discovery/current.json"
}

// PutJSON stores value as a JSON object under key.
func PutJSON(ctx context.Context, store ObjectStore, key string, value any) error {
	body, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return store.Put(ctx, key, body, jsonContentType)
}

// GetJSON decodes the object at key into out. It reports false when the
// object does not exist.
func GetJSON(ctx context.Context, store ObjectStore, key string, out any) (bool, error) {
	reader, err := store.Get(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(reader)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", key, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}
