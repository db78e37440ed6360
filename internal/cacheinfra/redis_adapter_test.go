package cacheinfra

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to MONSQLIZE_TEST_REDIS_ADDR or skips.
func newTestRedis(t *testing.T) (*RedisAdapter, string) {
	t.Helper()
	addr := os.Getenv("MONSQLIZE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MONSQLIZE_TEST_REDIS_ADDR not set")
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())

	adapter, err := NewRedisAdapter(client, RedisConfig{})
	require.NoError(t, err)

	prefix := "monsqlize-test:" + uuid.NewString() + "::"
	t.Cleanup(func() { _, _ = adapter.DelPattern(context.Background(), prefix+"*") })
	return adapter, prefix
}

func TestNewRedisAdapter_NilClient(t *testing.T) {
	_, err := NewRedisAdapter(nil, RedisConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client")
}

func TestRedisAdapter_SetGetTTL(t *testing.T) {
	adapter, prefix := newTestRedis(t)
	ctx := context.Background()

	doc := map[string]any{"name": "ada", "age": 36}
	require.NoError(t, adapter.Set(ctx, prefix+"doc", doc, time.Minute))

	item, ok, err := adapter.Get(ctx, prefix+"doc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, item.TTL, time.Duration(0))
	assert.LessOrEqual(t, item.TTL, time.Minute)

	got, isMap := item.Value.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, "ada", got["name"])

	_, ok, err = adapter.Get(ctx, prefix+"missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisAdapter_BatchAndPattern(t *testing.T) {
	adapter, prefix := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, adapter.SetMany(ctx, map[string]any{
		prefix + "users::1":  1,
		prefix + "users::2":  2,
		prefix + "orders::1": 3,
	}, time.Minute))

	items, err := adapter.GetMany(ctx, []string{prefix + "users::1", prefix + "nope"})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	n, err := adapter.DelPattern(ctx, prefix+"users::*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	exists, err := adapter.Exists(ctx, prefix+"orders::1")
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err := adapter.Del(ctx, prefix+"orders::1")
	require.NoError(t, err)
	assert.True(t, deleted)

	count, err := adapter.DelMany(ctx, []string{prefix + "orders::1"})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
