package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vextjs/monsqlize/cache"
	"github.com/vextjs/monsqlize/pkg/testsupport"
	"github.com/vextjs/monsqlize/querycache"
	"go.uber.org/zap/zaptest"
)

func seedUsers(t *testing.T) *testsupport.MemoryCollection {
	t.Helper()
	docs := testsupport.LoadDocuments(t, testsupport.FixturePath("users.json"))
	return testsupport.NewMemoryCollection("app", "users", docs...)
}

func newTestContainer(t *testing.T, mutate func(cfg *cache.Config)) *Container {
	t.Helper()

	config := cache.DefaultConfig()
	config.InstanceID = "integration"
	if mutate != nil {
		mutate(&config)
	}

	container, err := NewContainer(config, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { container.Close() })
	return container
}

func expectReads(t *testing.T, base *testsupport.MemoryCollection, want int64) {
	t.Helper()
	if got := base.Reads(); got != want {
		t.Errorf("Expected %d collection reads, got %d", want, got)
	}
}

func TestEndToEndCachedCollectionFlow(t *testing.T) {
	container := newTestContainer(t, func(cfg *cache.Config) {
		cfg.AutoInvalidate = true
	})
	base := seedUsers(t)
	users := container.NewCachedCollection(base)
	ctx := context.Background()

	active := cache.Filter{"status": "active"}
	byID := func(id int) cache.Filter { return cache.Filter{"_id": id} }

	// Test 1: repeated reads of the same shape hit the cache
	docs, err := users.Find(ctx, active, cache.QueryOptions{})
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Expected 1 active user, got %d", len(docs))
	}
	if _, err := users.Find(ctx, active, cache.QueryOptions{}); err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	expectReads(t, base, 1)

	// Test 2: each operation and filter is its own shape
	for i := 0; i < 2; i++ {
		if _, err := users.FindOne(ctx, byID(1), cache.QueryOptions{}); err != nil {
			t.Fatalf("FindOne() failed: %v", err)
		}
	}
	if _, err := users.FindOne(ctx, byID(2), cache.QueryOptions{}); err != nil {
		t.Fatalf("FindOne() failed: %v", err)
	}
	if _, err := users.Count(ctx, cache.Filter{}); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	expectReads(t, base, 4)

	// Test 3: an insert drops the shapes the new document matches
	err = users.InsertOne(ctx, cache.Document{"_id": 3, "name": "carol", "status": "active", "age": 25})
	if err != nil {
		t.Fatalf("InsertOne() failed: %v", err)
	}

	docs, err = users.Find(ctx, active, cache.QueryOptions{})
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 active users after insert, got %d", len(docs))
	}
	if _, err := users.FindOne(ctx, byID(1), cache.QueryOptions{}); err != nil {
		t.Fatalf("FindOne() failed: %v", err)
	}
	expectReads(t, base, 5)

	count, err := users.Count(ctx, cache.Filter{})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected count 3 after insert, got %d", count)
	}
	expectReads(t, base, 6)

	// Test 4: an update keeps entries its filter provably cannot touch
	if _, err := users.UpdateOne(ctx, byID(2), map[string]any{"$set": map[string]any{"status": "active"}}); err != nil {
		t.Fatalf("UpdateOne() failed: %v", err)
	}
	if _, err := users.FindOne(ctx, byID(1), cache.QueryOptions{}); err != nil {
		t.Fatalf("FindOne() failed: %v", err)
	}
	expectReads(t, base, 6)

	docs, err = users.Find(ctx, active, cache.QueryOptions{})
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if len(docs) != 3 {
		t.Errorf("Expected 3 active users after update, got %d", len(docs))
	}
	expectReads(t, base, 7)

	// Test 5: deletes invalidate overlapping shapes
	if _, err := users.DeleteOne(ctx, byID(3)); err != nil {
		t.Fatalf("DeleteOne() failed: %v", err)
	}
	docs, err = users.Find(ctx, active, cache.QueryOptions{})
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 active users after delete, got %d", len(docs))
	}
	expectReads(t, base, 8)

	stats := container.Coordinator().GetStats()
	if stats.Invalidations == 0 {
		t.Error("Expected invalidations to be counted")
	}
	if stats.Hits == 0 || stats.Misses == 0 {
		t.Errorf("Expected both hits and misses, got %+v", stats)
	}
}

func TestCacheEvictionFlow(t *testing.T) {
	container := newTestContainer(t, func(cfg *cache.Config) {
		cfg.MaxSize = 2
	})
	base := testsupport.NewMemoryCollection("app", "users",
		cache.Document{"_id": 1},
		cache.Document{"_id": 2},
		cache.Document{"_id": 3},
	)
	users := container.NewCachedCollection(base)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		if _, err := users.FindOne(ctx, cache.Filter{"_id": id}, cache.QueryOptions{}); err != nil {
			t.Fatalf("FindOne(%d) failed: %v", id, err)
		}
	}
	expectReads(t, base, 3)

	// The least recently used shape was evicted
	if _, err := users.FindOne(ctx, cache.Filter{"_id": 1}, cache.QueryOptions{}); err != nil {
		t.Fatalf("FindOne() failed: %v", err)
	}
	expectReads(t, base, 4)

	stats := container.Coordinator().GetStats()
	if stats.Evictions == 0 {
		t.Error("Expected evictions to be counted")
	}
	if stats.Size != 2 {
		t.Errorf("Expected 2 local entries, got %d", stats.Size)
	}
	if n := container.Coordinator().Registry().Len(); n > 2 {
		t.Errorf("Expected evicted shapes to leave the registry, got %d registrations", n)
	}
}

func TestTTLExpiryIntegration(t *testing.T) {
	container := newTestContainer(t, nil)
	base := seedUsers(t)
	users := container.NewCachedCollection(base)

	ctx := querycache.WithCacheTTL(context.Background(), 50*time.Millisecond)
	if _, err := users.Count(ctx, cache.Filter{}); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if _, err := users.Count(ctx, cache.Filter{}); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	expectReads(t, base, 1)

	time.Sleep(100 * time.Millisecond)

	if _, err := users.Count(ctx, cache.Filter{}); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	expectReads(t, base, 2)
}

func TestWritesWithoutAutoInvalidate(t *testing.T) {
	container := newTestContainer(t, nil)
	base := seedUsers(t)
	users := container.NewCachedCollection(base)
	ctx := context.Background()

	if _, err := users.Count(ctx, cache.Filter{}); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if err := users.InsertOne(ctx, cache.Document{"_id": 3}); err != nil {
		t.Fatalf("InsertOne() failed: %v", err)
	}

	// Writes pass through but the stale count is served until it expires
	count, err := users.Count(ctx, cache.Filter{})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected cached count 2, got %d", count)
	}
	expectReads(t, base, 1)

	// A per-call override opts in
	withInvalidation := querycache.WithAutoInvalidate(ctx, true)
	if err := users.InsertOne(withInvalidation, cache.Document{"_id": 4}); err != nil {
		t.Fatalf("InsertOne() failed: %v", err)
	}
	count, err = users.Count(ctx, cache.Filter{})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected fresh count 4, got %d", count)
	}

	// Explicit invalidation always works
	if _, err := users.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate() failed: %v", err)
	}
	if _, err := users.Count(ctx, cache.Filter{}); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	expectReads(t, base, 3)
}

func TestErrorPropagation(t *testing.T) {
	container := newTestContainer(t, nil)
	base := seedUsers(t)
	users := container.NewCachedCollection(base)
	ctx := context.Background()

	errDown := errors.New("database unavailable")
	base.FailReads = errDown

	_, err := users.Find(ctx, cache.Filter{}, cache.QueryOptions{})
	if !errors.Is(err, errDown) {
		t.Fatalf("Expected collection error, got %v", err)
	}

	base.FailReads = nil
	docs, err := users.Find(ctx, cache.Filter{}, cache.QueryOptions{})
	if err != nil {
		t.Fatalf("Find() failed after recovery: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 users, got %d", len(docs))
	}
	expectReads(t, base, 2)
}

func TestDifferentCollections(t *testing.T) {
	container := newTestContainer(t, func(cfg *cache.Config) {
		cfg.AutoInvalidate = true
	})
	usersBase := seedUsers(t)
	ordersBase := testsupport.NewMemoryCollection("app", "orders",
		cache.Document{"_id": 1, "status": "active"},
	)
	users := container.NewCachedCollection(usersBase)
	orders := container.NewCachedCollection(ordersBase)
	ctx := context.Background()

	// Same filter on two collections are two entries
	active := cache.Filter{"status": "active"}
	if _, err := users.Count(ctx, active); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if _, err := orders.Count(ctx, active); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	expectReads(t, usersBase, 1)
	expectReads(t, ordersBase, 1)

	// Writes only reach their own namespace
	if err := orders.InsertOne(ctx, cache.Document{"_id": 2, "status": "active"}); err != nil {
		t.Fatalf("InsertOne() failed: %v", err)
	}
	if _, err := users.Count(ctx, active); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if _, err := orders.Count(ctx, active); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	expectReads(t, usersBase, 1)
	expectReads(t, ordersBase, 2)
}

func TestMultiLevelAcrossContainers(t *testing.T) {
	remote, err := NewSharedRemote(DefaultSharedRemoteConfig())
	if err != nil {
		t.Fatalf("NewSharedRemote() failed: %v", err)
	}
	multiLevel := func(cfg *cache.Config) {
		cfg.MultiLevel = true
		cfg.Remote = remote
		cfg.AutoInvalidate = true
		cfg.Policy.WritePolicy = cache.WriteThrough
	}

	base := seedUsers(t)
	first := newTestContainer(t, multiLevel).NewCachedCollection(base)
	second := newTestContainer(t, multiLevel)
	ctx := context.Background()

	if _, err := first.Count(ctx, cache.Filter{}); err != nil {
		t.Fatalf("Count() failed: %v", err)
	}

	// The second container fills its local tier from the shared one
	count, err := second.NewCachedCollection(base).Count(ctx, cache.Filter{})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
	expectReads(t, base, 1)

	stats := second.Coordinator().GetStats()
	if stats.RemoteHits != 1 || stats.Backfills != 1 {
		t.Errorf("Expected one remote hit and backfill, got %+v", stats)
	}

	// An invalidating write removes the shared entry too
	if err := first.InsertOne(ctx, cache.Document{"_id": 3}); err != nil {
		t.Fatalf("InsertOne() failed: %v", err)
	}
	third := newTestContainer(t, multiLevel).NewCachedCollection(base)
	count, err = third.Count(ctx, cache.Filter{})
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected fresh count 3, got %d", count)
	}
	expectReads(t, base, 2)
}
