// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key namespaces. Keys are dot-separated so they stay valid NATS KV keys.
const (
	NSAgentCard = "card"
	NSFlagged   = "flagged"
	NSIdem      = "idem"
)

// Key joins a namespace and parts into a cache key.
func Key(ns string, parts ...string) string {
	return ns + "." + strings.Join(parts, ".")
}

// GetJSON reads and decodes a cached value. A value that no longer decodes
// is reported as a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var zero T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, nil
	}
	return v, true, nil
}

// SetJSON encodes and stores a value.
func SetJSON[T any](ctx context.Context, c Cache, key string, v T, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}
