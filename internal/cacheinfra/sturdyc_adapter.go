package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
	"github.com/vextjs/monsqlize/cache"
)

// SharedConfig holds the configuration for the sturdyc-backed shared adapter.
// The adapter is a process-wide remote tier: several coordinators may point
// at the same instance and see each other's writes.
type SharedConfig struct {
	// Capacity defines the maximum number of entries that the store can hold.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of shards for concurrent access.
	// Must be greater than 0. Default: 64
	NumShards int

	// MaxTTL is the longest lifetime an entry can have. Per-key TTLs are
	// tracked by the adapter and capped at this value.
	// Must be greater than 0.
	MaxTTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the store reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often sturdyc sweeps expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration

	// Codec, when set, stores encoded bytes instead of live values so that
	// readers never share memory with writers.
	Codec Codec
}

// DefaultSharedConfig returns a SharedConfig with sensible defaults.
func DefaultSharedConfig() SharedConfig {
	return SharedConfig{
		Capacity:           100000,
		NumShards:          64,
		MaxTTL:             time.Hour,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the config to sturdyc options. Capacity,
// NumShards, MaxTTL and EvictionPercentage go to sturdyc.New directly.
func (c SharedConfig) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c SharedConfig) Validate() error {
	if c.Capacity <= 0 {
		return &cache.ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}
	if c.NumShards <= 0 {
		return &cache.ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}
	if c.MaxTTL <= 0 {
		return &cache.ConfigError{Field: "MaxTTL", Message: "must be greater than 0"}
	}
	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &cache.ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}
	if c.EvictionInterval < 0 {
		return &cache.ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}
	return nil
}

// envelope carries the per-key deadline sturdyc does not track itself.
type envelope struct {
	value     any
	expiresAt time.Time
}

// SharedAdapter is a cache.RemoteAdapter backed by an in-process sturdyc
// client.
type SharedAdapter struct {
	client *sturdyc.Client[envelope]
	codec  Codec
	maxTTL time.Duration
	now    func() time.Time
}

var _ cache.RemoteAdapter = (*SharedAdapter)(nil)

// NewSharedAdapter validates cfg and creates the sturdyc client.
func NewSharedAdapter(cfg SharedConfig) (*SharedAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[envelope](
		cfg.Capacity,
		cfg.NumShards,
		cfg.MaxTTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SharedAdapter{
		client: client,
		codec:  cfg.Codec,
		maxTTL: cfg.MaxTTL,
		now:    time.Now,
	}, nil
}

func (a *SharedAdapter) lookup(key string) (envelope, time.Duration, bool) {
	env, ok := a.client.Get(key)
	if !ok {
		return envelope{}, 0, false
	}
	remaining := env.expiresAt.Sub(a.now())
	if remaining <= 0 {
		a.client.Delete(key)
		return envelope{}, 0, false
	}
	return env, remaining, true
}

func (a *SharedAdapter) decode(env envelope) (any, error) {
	if a.codec == nil {
		return env.value, nil
	}
	data, _ := env.value.([]byte)
	return a.codec.Unmarshal(data)
}

// Get implements cache.RemoteAdapter.
func (a *SharedAdapter) Get(ctx context.Context, key string) (cache.RemoteItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return cache.RemoteItem{}, false, err
	}
	env, remaining, ok := a.lookup(key)
	if !ok {
		return cache.RemoteItem{}, false, nil
	}
	value, err := a.decode(env)
	if err != nil {
		return cache.RemoteItem{}, false, err
	}
	return cache.RemoteItem{Value: value, TTL: remaining}, true, nil
}

// Set implements cache.RemoteAdapter. The ttl is capped at MaxTTL.
func (a *SharedAdapter) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 || ttl > a.maxTTL {
		ttl = a.maxTTL
	}
	if a.codec != nil {
		data, err := a.codec.Marshal(value)
		if err != nil {
			return err
		}
		value = data
	}
	a.client.Set(key, envelope{value: value, expiresAt: a.now().Add(ttl)})
	return nil
}

// Del implements cache.RemoteAdapter.
func (a *SharedAdapter) Del(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, _, ok := a.lookup(key)
	a.client.Delete(key)
	return ok, nil
}

// Exists implements cache.RemoteAdapter.
func (a *SharedAdapter) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, _, ok := a.lookup(key)
	return ok, nil
}

// GetMany implements cache.RemoteAdapter. Missing keys are absent from the result.
func (a *SharedAdapter) GetMany(ctx context.Context, keys []string) (map[string]cache.RemoteItem, error) {
	out := make(map[string]cache.RemoteItem, len(keys))
	for _, key := range keys {
		item, ok, err := a.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = item
		}
	}
	return out, nil
}

// SetMany implements cache.RemoteAdapter.
func (a *SharedAdapter) SetMany(ctx context.Context, items map[string]any, ttl time.Duration) error {
	for key, value := range items {
		if err := a.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// DelMany implements cache.RemoteAdapter.
func (a *SharedAdapter) DelMany(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, key := range keys {
		ok, err := a.Del(ctx, key)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// DelPattern implements cache.RemoteAdapter using glob matching over a key scan.
func (a *SharedAdapter) DelPattern(ctx context.Context, pattern string) (int, error) {
	if err := cache.ValidatePattern(pattern); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, key := range a.client.ScanKeys() {
		if ok, _ := cache.MatchPattern(pattern, key); !ok {
			continue
		}
		if _, _, live := a.lookup(key); live {
			n++
		}
		a.client.Delete(key)
	}
	return n, nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (a *SharedAdapter) Len() int {
	return a.client.Size()
}
