package cache

import (
	"context"
	"time"
)

// NoopCache stores nothing. Every Get misses. It stands in for a backend
// that could not be opened.
type NoopCache struct{}

// NewNoop creates a NoopCache.
func NewNoop() NoopCache { return NoopCache{} }

func (NoopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NoopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopCache) Invalidate(context.Context, string) (int, error) { return 0, nil }

func (NoopCache) Close() error { return nil }
