package querycache

import (
	"context"
	"time"

	"github.com/vextjs/monsqlize/cache"
	"go.uber.org/zap"
)

// ComputeFn produces a fresh value on a cache miss.
type ComputeFn func(ctx context.Context) (any, error)

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. Concurrent misses on the same key share one computation.
// Errors are returned to every waiter and nothing is cached.
func (c *Coordinator) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFn) (any, error) {
	if v, ok := c.get(ctx, key, nil); ok {
		return v, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if v, ok := c.local.Peek(key); ok {
			return v, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, v, c.ttl(ttl), nil)
		return v, nil
	})
	return v, err
}

// Fetch is GetOrCompute for a query shape: the result is registered for
// precision invalidation. A write to the namespace while compute runs
// prevents the possibly stale result from being cached. A query that
// cannot be fingerprinted bypasses the cache.
func (c *Coordinator) Fetch(ctx context.Context, q cache.Query, ttl time.Duration, compute ComputeFn) (any, error) {
	key, err := c.keys.Key(q)
	if err != nil {
		c.logger.Debug("query bypasses cache",
			zap.String("namespace", q.Namespace.String()),
			zap.Error(err),
		)
		return compute(ctx)
	}

	if v, ok := c.get(ctx, key, &q); ok {
		return v, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		if v, ok := c.local.Peek(key); ok {
			return v, nil
		}
		epoch := c.registry.Epoch(q.Namespace)
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if c.registry.Epoch(q.Namespace) != epoch {
			c.logger.Debug("namespace written during fill, result not cached", zap.String("key", key))
			return v, nil
		}
		c.set(ctx, key, v, c.ttl(ttl), &q)
		// A write that ran while the entry was being stored may have missed
		// its registration.
		if c.registry.Epoch(q.Namespace) != epoch {
			c.logger.Debug("namespace written while storing, entry dropped", zap.String("key", key))
			c.Del(ctx, key)
		}
		return v, nil
	})
	return v, err
}

// GetOrFetch is the typed form of GetOrCompute. A cached value of another
// type, for example one decoded from the remote tier, is treated as a miss
// and refetched without caching.
func GetOrFetch[T any](ctx context.Context, c *Coordinator, key string, ttl time.Duration, fetchFn cache.FetchFn[T]) (T, error) {
	v, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	c.logger.Debug("cached value has unexpected type, refetching", zap.String("key", key))
	return fetchFn(ctx)
}

// FetchQuery is the typed form of Fetch.
func FetchQuery[T any](ctx context.Context, c *Coordinator, q cache.Query, ttl time.Duration, fetchFn cache.FetchFn[T]) (T, error) {
	v, err := c.Fetch(ctx, q, ttl, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	c.logger.Debug("cached value has unexpected type, refetching", zap.String("namespace", q.Namespace.String()))
	return fetchFn(ctx)
}
