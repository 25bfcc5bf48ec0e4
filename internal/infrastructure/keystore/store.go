// Package keystore is the durable key/value layer sessions persist to. Each
// key holds one serialized document (a cart, an order history, a
// conversation index or a message list).
package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key has never been written
var ErrNotFound = errors.New("keystore: key not found")

// ErrCorrupt is returned by GetJSON when a stored value cannot be decoded
var ErrCorrupt = errors.New("keystore: stored value is corrupt")

// Store is a flat namespace of opaque values. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// GetJSON loads key and decodes it into v. A missing key returns
// ErrNotFound; an undecodable value returns ErrCorrupt.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("keystore: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}
