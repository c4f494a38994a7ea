// Package cache provides the key-value cache that fronts shopping list
// aggregation. Backends are interchangeable behind the Cache interface.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrUnavailable wraps every backend failure. Callers treat it as a miss.
var ErrUnavailable = errors.New("cache unavailable")

// Cache is a TTL-based key-value store.
type Cache interface {
	// Get returns the value stored under key. ok is false on a miss.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key for ttl. A non-positive ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Invalidate removes every key matching the glob pattern and returns
	// the number of removed keys.
	Invalidate(ctx context.Context, pattern string) (int, error)
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrUnavailable, err)
}

// literalPrefix returns the part of a glob pattern before its first
// metacharacter.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

func matches(pattern, key string) (bool, error) {
	ok, err := path.Match(pattern, key)
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return ok, nil
}
