package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vextjs/monsqlize/cache"
	"github.com/vextjs/monsqlize/internal/cacheinfra"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithKeyBuilder replaces the default fingerprinter.
func WithKeyBuilder(kb cache.KeyBuilder) Option {
	return func(c *Coordinator) {
		if kb != nil {
			c.keys = kb
		}
	}
}

// WithClock overrides the clock used by the local store and registry.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator is the multi-level cache owned by one monsqlize instance. It
// fronts the local store and the optional remote tier, keeps the query
// registry in step with stored entries and runs precision invalidation on
// writes. Nothing is shared between coordinators except an explicitly shared
// remote adapter.
type Coordinator struct {
	cfg        cache.Config
	instanceID string

	local    *cacheinfra.LocalStore
	remote   cache.RemoteAdapter
	guard    *cacheinfra.GuardedRemote
	registry *Registry
	matcher  *Matcher
	stats    *statsCollector
	keys     cache.KeyBuilder
	logger   *zap.Logger
	now      func() time.Time

	flight singleflight.Group
	writes *remoteWrites

	bgMu   sync.RWMutex
	bg     sync.WaitGroup
	closed bool
}

// New validates cfg and builds a coordinator. Only configuration errors are
// returned; everything at runtime degrades instead of failing.
func New(cfg cache.Config, opts ...Option) (*Coordinator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:        cfg,
		instanceID: cfg.InstanceID,
		registry:   NewRegistry(),
		writes:     newRemoteWrites(),
		stats:      &statsCollector{enabled: cfg.StatsEnabled()},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.instanceID == "" {
		c.instanceID = uuid.NewString()
	}
	if c.keys == nil {
		c.keys = cache.NewFingerprinter(cfg.KeyPrefix)
	}
	c.registry.now = c.now
	c.matcher = NewMatcher(cfg.Invalidation, c.logger)

	local, err := cacheinfra.NewLocalStore(cacheinfra.LocalStoreConfig{
		MaxSize:         cfg.LocalMaxSize(),
		CleanupInterval: cfg.Local.CleanupInterval,
		OnRemove:        c.registry.LocalRemoved,
		Now:             c.now,
	})
	if err != nil {
		return nil, err
	}
	c.local = local

	if cfg.UsesRemote() {
		c.guard = cacheinfra.NewGuardedRemote(cfg.Remote, cfg.RemoteTimeout, cfg.Breaker, c.logger)
		c.remote = c.guard
	}

	c.logger.Debug("query cache initialised",
		zap.String("instance", c.instanceID),
		zap.Int("max_size", cfg.LocalMaxSize()),
		zap.Bool("multi_level", c.remote != nil),
		zap.String("write_policy", string(cfg.Policy.WritePolicy)),
	)
	return c, nil
}

// InstanceID returns the id scoping this coordinator's namespaces.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// Namespace builds the namespace of a collection owned by this instance.
func (c *Coordinator) Namespace(db, collection string) cache.Namespace {
	return cache.Namespace{InstanceID: c.instanceID, DB: db, Collection: collection}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() cache.Config {
	return c.cfg
}

// Key fingerprints q.
func (c *Coordinator) Key(q cache.Query) (string, error) {
	return c.keys.Key(q)
}

// Registry exposes the query registry, mainly for inspection.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

func (c *Coordinator) policy() cache.WritePolicy {
	if c.remote == nil {
		return cache.WriteThrough
	}
	return c.cfg.Policy.WritePolicy
}

func (c *Coordinator) ttl(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.cfg.DefaultTTL
	}
	return ttl
}

// Get looks key up locally, then remotely. A remote hit is backfilled into
// the local tier unless the write policy is remote-only. While a delete of
// key is still on its way to the remote tier the remote read is skipped.
func (c *Coordinator) Get(ctx context.Context, key string) (any, bool) {
	return c.get(ctx, key, nil)
}

func (c *Coordinator) get(ctx context.Context, key string, q *cache.Query) (any, bool) {
	if v, ok := c.local.Get(key); ok {
		c.stats.inc(&c.stats.hits)
		return v, true
	}
	if c.remote == nil {
		c.stats.inc(&c.stats.misses)
		return nil, false
	}

	tok, ok := c.writes.beginRead(key)
	if !ok {
		c.stats.inc(&c.stats.misses)
		c.logger.Debug("remote delete pending, skipping remote read", zap.String("key", key))
		return nil, false
	}
	defer c.writes.endRead(tok)

	item, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.stats.inc(&c.stats.remoteErrors)
		c.stats.inc(&c.stats.misses)
		c.logger.Warn("remote get failed, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		c.stats.inc(&c.stats.remoteMisses)
		c.stats.inc(&c.stats.misses)
		return nil, false
	}

	if c.policy() == cache.RemoteOnly {
		if !c.writes.current(tok) {
			return c.superseded(key)
		}
		c.stats.inc(&c.stats.remoteHits)
		c.stats.inc(&c.stats.hits)
		return item.Value, true
	}

	ttl := item.TTL
	if ttl <= 0 {
		ttl = c.cfg.BackfillTTL
	}
	stored := c.local.SetIf(key, item.Value, ttl, func() bool {
		if !c.writes.current(tok) {
			return false
		}
		if q != nil {
			c.registry.Register(key, *q, ttl, true, true)
		} else if reg, ok := c.registry.Lookup(key); ok {
			c.registry.Register(key, reg.Query, ttl, true, true)
		}
		return true
	})
	if !stored {
		return c.superseded(key)
	}
	c.stats.inc(&c.stats.remoteHits)
	c.stats.inc(&c.stats.hits)
	c.stats.inc(&c.stats.backfills)
	return item.Value, true
}

// superseded reports a remote value that a delete overtook while it was
// being read.
func (c *Coordinator) superseded(key string) (any, bool) {
	c.stats.inc(&c.stats.misses)
	c.logger.Debug("remote value deleted while reading, treating as miss", zap.String("key", key))
	return nil, false
}

// Set stores value under key following the write policy. A ttl <= 0 uses
// DefaultTTL. Raw keys are not registered for precision invalidation; use
// SetQuery for query results.
func (c *Coordinator) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	c.set(ctx, key, value, c.ttl(ttl), nil)
}

// set stores value and, when q is given, registers it. A local entry is
// registered together with the store so an eviction cannot overtake the
// registration.
func (c *Coordinator) set(ctx context.Context, key string, value any, ttl time.Duration, q *cache.Query) {
	c.stats.inc(&c.stats.sets)

	var reg *Registration
	register := func(inLocal, inRemote bool) bool {
		if q != nil {
			reg = c.registry.Register(key, *q, ttl, inLocal, inRemote)
		}
		return true
	}

	if c.remote == nil {
		c.local.SetIf(key, value, ttl, func() bool { return register(true, false) })
		return
	}

	policy := c.policy()
	if policy == cache.RemoteOnly {
		register(false, true)
	} else {
		c.local.SetIf(key, value, ttl, func() bool { return register(true, true) })
	}

	tok := c.writes.beginSet(key)
	write := func(ctx context.Context) {
		if err := c.remote.Set(ctx, key, value, ttl); err != nil {
			c.remoteFailed("set", key, err)
			if reg != nil {
				c.registry.ClearRemote(key, reg)
			}
		}
		if c.writes.endSet(tok) {
			c.retract(ctx, key)
		}
	}
	if policy == cache.LocalFirstAsyncRemote {
		c.async(write)
		return
	}
	write(ctx)
}

// retract removes a value whose remote set landed after a delete of the
// same key. endSet has already marked the key as pending delete.
func (c *Coordinator) retract(ctx context.Context, key string) {
	defer c.writes.endDel(key)

	c.logger.Debug("remote set overtaken by a delete, removing it again", zap.String("key", key))
	c.local.Del(key)
	c.registry.Unregister(key)
	if _, err := c.remote.Del(context.WithoutCancel(ctx), key); err != nil {
		c.remoteFailed("del", key, err)
	}
}

// SetQuery stores the result of q and registers the shape for invalidation.
// It returns the key, or a CACHE_KEY_ERROR when q cannot be fingerprinted.
func (c *Coordinator) SetQuery(ctx context.Context, q cache.Query, value any, ttl time.Duration) (string, error) {
	key, err := c.keys.Key(q)
	if err != nil {
		return "", err
	}
	c.set(ctx, key, value, c.ttl(ttl), &q)
	return key, nil
}

// GetQuery fingerprints q and looks it up. A query that cannot be
// fingerprinted is a miss.
func (c *Coordinator) GetQuery(ctx context.Context, q cache.Query) (any, bool) {
	key, err := c.keys.Key(q)
	if err != nil {
		c.logger.Debug("query bypasses cache", zap.Error(err))
		return nil, false
	}
	return c.get(ctx, key, &q)
}

// Del removes key from both tiers and reports whether it was present.
// Under local-first-async-remote the remote delete runs in the background,
// but reads of key skip the remote tier until it has completed.
func (c *Coordinator) Del(ctx context.Context, key string) bool {
	if c.remote != nil {
		c.writes.beginDel(key)
	}
	removed := c.local.Del(key)
	c.registry.Unregister(key)

	if c.remote == nil {
		return removed
	}
	del := func(ctx context.Context) bool {
		defer c.writes.endDel(key)
		ok, err := c.remote.Del(ctx, key)
		if err != nil {
			c.remoteFailed("del", key, err)
		}
		return ok
	}
	if c.policy() == cache.LocalFirstAsyncRemote {
		c.async(func(ctx context.Context) { del(ctx) })
		return removed
	}
	return del(ctx) || removed
}

// DelMany removes keys from both tiers and returns how many local or
// synchronously deleted remote entries were present.
func (c *Coordinator) DelMany(ctx context.Context, keys []string) int {
	if len(keys) == 0 {
		return 0
	}
	if c.remote != nil {
		c.writes.beginDel(keys...)
	}
	n := c.local.DelMany(keys)
	c.registry.UnregisterMany(keys)

	if c.remote == nil {
		return n
	}
	del := func(ctx context.Context) int {
		defer c.writes.endDel(keys...)
		rn, err := c.remote.DelMany(ctx, keys)
		if err != nil {
			c.remoteFailed("delMany", "", err)
		}
		return rn
	}
	if c.policy() == cache.LocalFirstAsyncRemote {
		c.async(func(ctx context.Context) { del(ctx) })
		return n
	}
	if rn := del(ctx); rn > n {
		return rn
	}
	return n
}

// DelPattern removes every key matching the glob from both tiers.
func (c *Coordinator) DelPattern(ctx context.Context, pattern string) (int, error) {
	if err := cache.ValidatePattern(pattern); err != nil {
		return 0, err
	}
	if c.remote != nil {
		c.writes.beginPattern(pattern)
	}
	n, _ := c.local.DelPattern(pattern)
	c.registry.UnregisterPattern(pattern)

	if c.remote == nil {
		return n, nil
	}
	del := func(ctx context.Context) int {
		defer c.writes.endPattern(pattern)
		rn, err := c.remote.DelPattern(ctx, pattern)
		if err != nil {
			c.remoteFailed("delPattern", pattern, err)
		}
		return rn
	}
	if c.policy() == cache.LocalFirstAsyncRemote {
		c.async(func(ctx context.Context) { del(ctx) })
		return n, nil
	}
	if rn := del(ctx); rn > n {
		return rn, nil
	}
	return n, nil
}

// Exists reports whether key is cached in either tier.
func (c *Coordinator) Exists(ctx context.Context, key string) bool {
	if c.local.Exists(key) {
		return true
	}
	if c.remote == nil {
		return false
	}
	ok, err := c.remote.Exists(ctx, key)
	if err != nil {
		c.remoteFailed("exists", key, err)
		return false
	}
	return ok
}

// Keys lists local keys matching the glob; an empty pattern lists all.
// The remote tier is not enumerated.
func (c *Coordinator) Keys(pattern string) ([]string, error) {
	return c.local.Keys(pattern)
}

// Clear empties the local tier and the registry, and removes this
// instance's query keys from the remote tier.
func (c *Coordinator) Clear(ctx context.Context) {
	pattern := c.keys.InstancePattern(c.instanceID)
	if c.remote != nil {
		c.writes.beginPattern(pattern)
		defer c.writes.endPattern(pattern)
	}
	c.local.Clear()
	c.registry.Clear()

	if c.remote == nil {
		return
	}
	if _, err := c.remote.DelPattern(ctx, pattern); err != nil {
		c.remoteFailed("clear", pattern, err)
	}
}

// GetStats returns a snapshot of the counters. Counters stay zero when
// stats are disabled; Size is always reported.
func (c *Coordinator) GetStats() cache.Stats {
	return c.stats.snapshot(c.local.Stats(), c.local.Len())
}

// RemoteState reports the remote circuit breaker state, or "none" without
// a remote tier.
func (c *Coordinator) RemoteState() string {
	if c.guard == nil {
		return "none"
	}
	return c.guard.State()
}

// Invalidate is a coarse flush of every cached entry of ns, narrowed to the
// given operations when any are passed.
func (c *Coordinator) Invalidate(ctx context.Context, ns cache.Namespace, ops ...cache.Operation) (int, error) {
	c.registry.BumpEpoch(ns)

	if len(ops) == 0 {
		ops = []cache.Operation{""}
	}
	total := 0
	for _, op := range ops {
		n, err := c.DelPattern(ctx, c.keys.NamespacePattern(ns, op))
		if err != nil {
			return total, err
		}
		total += n
	}
	c.stats.add(&c.stats.invalidations, uint64(total))
	c.logger.Debug("namespace invalidated",
		zap.String("namespace", ns.String()),
		zap.Int("count", total),
	)
	return total, nil
}

// OnWrite runs precision invalidation for a successful write. Local entries
// are gone before it returns; remote deletes follow the write policy. It
// returns the number of invalidated entries.
func (c *Coordinator) OnWrite(ctx context.Context, w cache.WriteDescriptor) int {
	if !w.AutoInvalidate {
		return 0
	}
	c.registry.BumpEpoch(w.Namespace)

	regs := c.registry.ForNamespace(w.Namespace)
	keys := c.matcher.Affected(w, regs)
	if len(keys) == 0 {
		return 0
	}

	c.DelMany(ctx, keys)
	c.stats.add(&c.stats.invalidations, uint64(len(keys)))
	c.logger.Debug("precision invalidation",
		zap.String("namespace", w.Namespace.String()),
		zap.String("operation", string(w.Operation)),
		zap.Int("candidates", len(regs)),
		zap.Int("invalidated", len(keys)),
	)
	return len(keys)
}

// async runs fn in the background with a context detached from the caller.
// After Close it runs fn inline.
func (c *Coordinator) async(fn func(ctx context.Context)) {
	c.bgMu.RLock()
	if c.closed {
		c.bgMu.RUnlock()
		fn(context.Background())
		return
	}
	c.bg.Add(1)
	c.bgMu.RUnlock()

	go func() {
		defer c.bg.Done()
		fn(context.Background())
	}()
}

func (c *Coordinator) remoteFailed(op, key string, err error) {
	c.stats.inc(&c.stats.remoteErrors)
	if !errors.Is(err, cache.ErrRemoteUnavailable) {
		err = &cache.Error{Code: cache.CodeRemoteUnavailable, Op: op, Key: key, Err: err}
	}
	c.logger.Warn("remote cache operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
}

// Close waits for background remote writes and stops the local sweeper.
func (c *Coordinator) Close() error {
	c.bgMu.Lock()
	c.closed = true
	c.bgMu.Unlock()

	c.bg.Wait()
	c.local.Close()
	return nil
}
