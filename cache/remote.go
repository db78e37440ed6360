package cache

import (
	"context"
	"time"
)

// FetchFn computes a fresh value from the source of truth on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// RemoteItem is a value read from the remote tier. TTL is the remaining
// time-to-live reported by the store, or zero when the store does not know.
type RemoteItem struct {
	Value any
	TTL   time.Duration
}

// RemoteAdapter is the optional second cache tier, typically backed by a
// remote key-value store. Every method may fail or block; the coordinator
// bounds each call with a timeout and treats failures as misses.
type RemoteAdapter interface {
	Get(ctx context.Context, key string) (RemoteItem, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	GetMany(ctx context.Context, keys []string) (map[string]RemoteItem, error)
	SetMany(ctx context.Context, items map[string]any, ttl time.Duration) error
	DelMany(ctx context.Context, keys []string) (int, error)
	DelPattern(ctx context.Context, pattern string) (int, error)
}
