package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vextjs/monsqlize/cache"
)

func TestDefaultSharedConfig(t *testing.T) {
	cfg := DefaultSharedConfig()

	if cfg.Capacity != 100000 {
		t.Errorf("expected Capacity to be 100000, got %d", cfg.Capacity)
	}
	if cfg.NumShards != 64 {
		t.Errorf("expected NumShards to be 64, got %d", cfg.NumShards)
	}
	if cfg.MaxTTL != time.Hour {
		t.Errorf("expected MaxTTL to be 1h, got %v", cfg.MaxTTL)
	}
	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestSharedConfig_Validate(t *testing.T) {
	valid := DefaultSharedConfig()

	tests := []struct {
		name      string
		mutate    func(c *SharedConfig)
		wantField string
	}{
		{name: "valid default config"},
		{name: "zero capacity", mutate: func(c *SharedConfig) { c.Capacity = 0 }, wantField: "Capacity"},
		{name: "zero shards", mutate: func(c *SharedConfig) { c.NumShards = 0 }, wantField: "NumShards"},
		{name: "zero max ttl", mutate: func(c *SharedConfig) { c.MaxTTL = 0 }, wantField: "MaxTTL"},
		{name: "eviction percentage too low", mutate: func(c *SharedConfig) { c.EvictionPercentage = 0 }, wantField: "EvictionPercentage"},
		{name: "eviction percentage too high", mutate: func(c *SharedConfig) { c.EvictionPercentage = 101 }, wantField: "EvictionPercentage"},
		{name: "negative eviction interval", mutate: func(c *SharedConfig) { c.EvictionInterval = -time.Second }, wantField: "EvictionInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Errorf("expected no validation error but got: %v", err)
				}
				return
			}

			var cfgErr *cache.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *cache.ConfigError, got %T (%v)", err, err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, cfgErr.Field)
			}
		})
	}
}

func TestSharedConfig_ToSturdycOptions(t *testing.T) {
	cfg := DefaultSharedConfig()
	if got := len(cfg.ToSturdycOptions()); got != 0 {
		t.Errorf("expected no sturdyc options for default config, got %d", got)
	}

	cfg.EvictionInterval = time.Second
	if got := len(cfg.ToSturdycOptions()); got != 1 {
		t.Errorf("expected 1 sturdyc option with eviction interval, got %d", got)
	}
}

func newTestSharedAdapter(t *testing.T, codec Codec) *SharedAdapter {
	t.Helper()
	cfg := DefaultSharedConfig()
	cfg.Capacity = 1000
	cfg.NumShards = 4
	cfg.Codec = codec
	adapter, err := NewSharedAdapter(cfg)
	if err != nil {
		t.Fatalf("failed to create shared adapter: %v", err)
	}
	return adapter
}

func TestSharedAdapter_SetGet(t *testing.T) {
	ctx := context.Background()
	adapter := newTestSharedAdapter(t, nil)

	if err := adapter.Set(ctx, "k1", "v1", time.Minute); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	item, ok, err := adapter.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if item.Value != "v1" {
		t.Errorf("expected value v1, got %v", item.Value)
	}
	if item.TTL <= 0 || item.TTL > time.Minute {
		t.Errorf("expected remaining TTL in (0, 1m], got %v", item.TTL)
	}

	_, ok, err = adapter.Get(ctx, "missing")
	if err != nil || ok {
		t.Errorf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestSharedAdapter_PerKeyExpiry(t *testing.T) {
	ctx := context.Background()
	adapter := newTestSharedAdapter(t, nil)

	now := time.Now()
	adapter.now = func() time.Time { return now }

	_ = adapter.Set(ctx, "short", 1, time.Second)
	_ = adapter.Set(ctx, "long", 2, time.Minute)

	now = now.Add(2 * time.Second)

	if ok, _ := adapter.Exists(ctx, "short"); ok {
		t.Error("expected short-lived key to be expired")
	}
	if ok, _ := adapter.Exists(ctx, "long"); !ok {
		t.Error("expected long-lived key to survive")
	}
}

func TestSharedAdapter_CapsTTL(t *testing.T) {
	ctx := context.Background()
	adapter := newTestSharedAdapter(t, nil)

	_ = adapter.Set(ctx, "k", "v", 48*time.Hour)
	item, ok, _ := adapter.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if item.TTL > time.Hour {
		t.Errorf("expected TTL capped at MaxTTL, got %v", item.TTL)
	}
}

func TestSharedAdapter_Codec(t *testing.T) {
	ctx := context.Background()
	adapter := newTestSharedAdapter(t, MsgpackCodec{})

	doc := map[string]any{"name": "ada", "tags": []any{"a", "b"}}
	if err := adapter.Set(ctx, "doc", doc, time.Minute); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}

	doc["name"] = "mutated"

	item, ok, err := adapter.Get(ctx, "doc")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	got, isMap := item.Value.(map[string]any)
	if !isMap {
		t.Fatalf("expected decoded map, got %T", item.Value)
	}
	if got["name"] != "ada" {
		t.Errorf("expected stored copy to be isolated from caller, got %v", got["name"])
	}
}

func TestSharedAdapter_ManyAndPattern(t *testing.T) {
	ctx := context.Background()
	adapter := newTestSharedAdapter(t, nil)

	err := adapter.SetMany(ctx, map[string]any{
		"app::db::users::find::1":  1,
		"app::db::users::find::2":  2,
		"app::db::orders::find::3": 3,
	}, time.Minute)
	if err != nil {
		t.Fatalf("unexpected setMany error: %v", err)
	}

	items, err := adapter.GetMany(ctx, []string{"app::db::users::find::1", "nope"})
	if err != nil {
		t.Fatalf("unexpected getMany error: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 item, got %d", len(items))
	}

	n, err := adapter.DelPattern(ctx, "app::db::users::*")
	if err != nil {
		t.Fatalf("unexpected delPattern error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deletions, got %d", n)
	}
	if ok, _ := adapter.Exists(ctx, "app::db::orders::find::3"); !ok {
		t.Error("expected orders key to survive pattern delete")
	}

	n, _ = adapter.DelMany(ctx, []string{"app::db::orders::find::3", "nope"})
	if n != 1 {
		t.Errorf("expected 1 deletion, got %d", n)
	}

	if _, err := adapter.DelPattern(ctx, "["); err == nil || !strings.Contains(err.Error(), "syntax") {
		t.Errorf("expected bad pattern error, got %v", err)
	}
}

func TestSharedAdapter_CancelledContext(t *testing.T) {
	adapter := newTestSharedAdapter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := adapter.Set(ctx, "k", "v", time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
