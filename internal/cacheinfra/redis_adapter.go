package cacheinfra

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vextjs/monsqlize/cache"
)

const defaultScanCount = 256

// RedisConfig configures the Redis remote adapter.
type RedisConfig struct {
	// Codec encodes values; defaults to MsgpackCodec.
	Codec Codec
	// ScanCount is the COUNT hint used while scanning for DelPattern.
	ScanCount int64
}

// RedisAdapter is a cache.RemoteAdapter backed by Redis. Values are stored
// encoded with the configured codec and expire through Redis TTLs.
type RedisAdapter struct {
	client    redis.UniversalClient
	codec     Codec
	scanCount int64
}

var _ cache.RemoteAdapter = (*RedisAdapter)(nil)

// NewRedisAdapter wraps an existing client. The caller owns the client.
func NewRedisAdapter(client redis.UniversalClient, cfg RedisConfig) (*RedisAdapter, error) {
	if client == nil {
		return nil, &cache.ConfigError{Field: "client", Message: "cannot be nil"}
	}
	if cfg.Codec == nil {
		cfg.Codec = MsgpackCodec{}
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = defaultScanCount
	}
	return &RedisAdapter{client: client, codec: cfg.Codec, scanCount: cfg.ScanCount}, nil
}

// Get implements cache.RemoteAdapter. The remaining TTL is read in the same
// round trip.
func (a *RedisAdapter) Get(ctx context.Context, key string) (cache.RemoteItem, bool, error) {
	items, err := a.GetMany(ctx, []string{key})
	if err != nil {
		return cache.RemoteItem{}, false, err
	}
	item, ok := items[key]
	return item, ok, nil
}

// Set implements cache.RemoteAdapter.
func (a *RedisAdapter) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := a.codec.Marshal(value)
	if err != nil {
		return err
	}
	return a.client.Set(ctx, key, data, ttl).Err()
}

// Del implements cache.RemoteAdapter.
func (a *RedisAdapter) Del(ctx context.Context, key string) (bool, error) {
	n, err := a.client.Del(ctx, key).Result()
	return n > 0, err
}

// Exists implements cache.RemoteAdapter.
func (a *RedisAdapter) Exists(ctx context.Context, key string) (bool, error) {
	n, err := a.client.Exists(ctx, key).Result()
	return n > 0, err
}

// GetMany implements cache.RemoteAdapter with one pipelined GET and PTTL per key.
func (a *RedisAdapter) GetMany(ctx context.Context, keys []string) (map[string]cache.RemoteItem, error) {
	out := make(map[string]cache.RemoteItem, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	pipe := a.client.Pipeline()
	gets := make([]*redis.StringCmd, len(keys))
	ttls := make([]*redis.DurationCmd, len(keys))
	for i, key := range keys {
		gets[i] = pipe.Get(ctx, key)
		ttls[i] = pipe.PTTL(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	for i, key := range keys {
		data, err := gets[i].Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		value, err := a.codec.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		item := cache.RemoteItem{Value: value}
		if ttl, err := ttls[i].Result(); err == nil && ttl > 0 {
			item.TTL = ttl
		}
		out[key] = item
	}
	return out, nil
}

// SetMany implements cache.RemoteAdapter in one pipeline.
func (a *RedisAdapter) SetMany(ctx context.Context, items map[string]any, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	pipe := a.client.Pipeline()
	for key, value := range items {
		data, err := a.codec.Marshal(value)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, data, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DelMany implements cache.RemoteAdapter.
func (a *RedisAdapter) DelMany(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := a.client.Del(ctx, keys...).Result()
	return int(n), err
}

// DelPattern implements cache.RemoteAdapter with SCAN MATCH and batched DEL.
func (a *RedisAdapter) DelPattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := a.client.Scan(ctx, cursor, pattern, a.scanCount).Result()
		if err != nil {
			return total, err
		}
		if len(keys) > 0 {
			n, err := a.client.Del(ctx, keys...).Result()
			if err != nil {
				return total, err
			}
			total += int(n)
		}
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}
