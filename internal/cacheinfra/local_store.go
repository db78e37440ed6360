package cacheinfra

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/vextjs/monsqlize/cache"
)

// RemovalReason tells a RemovalListener why an entry left the local store.
type RemovalReason uint8

const (
	// ReasonEvicted means capacity pressure pushed the entry out.
	ReasonEvicted RemovalReason = iota
	// ReasonExpired means the entry's TTL elapsed.
	ReasonExpired
	// ReasonDeleted means an explicit delete removed the entry.
	ReasonDeleted
	// ReasonCleared means the whole store was cleared.
	ReasonCleared
)

func (r RemovalReason) String() string {
	switch r {
	case ReasonEvicted:
		return "evicted"
	case ReasonExpired:
		return "expired"
	case ReasonDeleted:
		return "deleted"
	case ReasonCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// RemovalListener is called for every entry leaving the store. It runs while
// the store lock is held and must not call back into the store.
type RemovalListener func(key string, reason RemovalReason)

// LocalStoreConfig configures a LocalStore.
type LocalStoreConfig struct {
	// MaxSize is the exact entry capacity. Must be greater than 0.
	MaxSize int
	// CleanupInterval starts a background sweep of expired entries when positive.
	CleanupInterval time.Duration
	OnRemove        RemovalListener
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate checks whether the configuration values are valid.
func (c LocalStoreConfig) Validate() error {
	if c.MaxSize <= 0 {
		return &cache.ConfigError{Field: "MaxSize", Message: "must be greater than 0"}
	}
	if c.CleanupInterval < 0 {
		return &cache.ConfigError{Field: "CleanupInterval", Message: "must be non-negative"}
	}
	return nil
}

// LocalStats are the counters kept by the local store.
type LocalStats struct {
	Hits            uint64
	Misses          uint64
	Sets            uint64
	Evictions       uint64
	ExpiredRemovals uint64
	ApproxBytes     int64
}

type localEntry struct {
	value      any
	createdAt  time.Time
	expiresAt  time.Time
	approxSize int
}

func (e *localEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LocalStore is a bounded in-process LRU map with per-entry TTL. Capacity is
// exact: inserting a new key into a full store evicts exactly the least
// recently used entry. Expired entries are removed lazily on access and,
// when configured, by a periodic sweep.
type LocalStore struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *localEntry]
	reason   RemovalReason
	onRemove RemovalListener
	now      func() time.Time
	stats    LocalStats

	stopChan chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// NewLocalStore creates a local store and starts its sweeper when configured.
func NewLocalStore(cfg LocalStoreConfig) (*LocalStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &LocalStore{
		onRemove: cfg.OnRemove,
		now:      cfg.Now,
		stopChan: make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}

	lru, err := simplelru.NewLRU[string, *localEntry](cfg.MaxSize, s.removed)
	if err != nil {
		return nil, err
	}
	s.lru = lru

	if cfg.CleanupInterval > 0 {
		s.done.Add(1)
		go s.janitor(cfg.CleanupInterval)
	}
	return s, nil
}

// removed is the LRU eviction callback. simplelru reports every removal
// through it, so the reason is set by the caller before each mutation.
func (s *LocalStore) removed(key string, e *localEntry) {
	s.stats.ApproxBytes -= int64(e.approxSize)
	switch s.reason {
	case ReasonEvicted:
		s.stats.Evictions++
	case ReasonExpired:
		s.stats.ExpiredRemovals++
	}
	if s.onRemove != nil {
		s.onRemove(key, s.reason)
	}
}

// Set stores value under key. A ttl <= 0 stores the entry without expiry.
func (s *LocalStore) Set(key string, value any, ttl time.Duration) {
	s.SetIf(key, value, ttl, nil)
}

// SetIf is Set guarded by cond, which runs under the store lock right before
// the entry is added. A false result leaves the store untouched. cond may
// record the entry elsewhere, for example in an index kept in step through
// the removal listener, but must not call back into the store.
func (s *LocalStore) SetIf(key string, value any, ttl time.Duration, cond func() bool) bool {
	now := s.now()
	e := &localEntry{
		value:      value,
		createdAt:  now,
		approxSize: approxSize(key, value),
	}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cond != nil && !cond() {
		return false
	}
	if old, ok := s.lru.Peek(key); ok {
		s.stats.ApproxBytes -= int64(old.approxSize)
	}
	s.reason = ReasonEvicted
	s.lru.Add(key, e)
	s.stats.ApproxBytes += int64(e.approxSize)
	s.stats.Sets++
	return true
}

// Get returns the value for key and marks it most recently used. Expired
// entries are removed and reported as misses.
func (s *LocalStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(key)
	if !ok {
		s.stats.Misses++
		return nil, false
	}
	if e.expired(s.now()) {
		s.reason = ReasonExpired
		s.lru.Remove(key)
		s.stats.Misses++
		return nil, false
	}
	s.stats.Hits++
	return e.value, true
}

// Peek returns the value for key without touching recency or hit counters.
func (s *LocalStore) Peek(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// TTL returns the remaining lifetime of key. Zero means no expiry.
func (s *LocalStore) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return 0, true
	}
	return e.expiresAt.Sub(s.now()), true
}

// Exists reports whether key holds an unexpired entry.
func (s *LocalStore) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key)
	return ok
}

// live peeks key and drops it when expired. Callers hold s.mu.
func (s *LocalStore) live(key string) (*localEntry, bool) {
	e, ok := s.lru.Peek(key)
	if !ok {
		return nil, false
	}
	if e.expired(s.now()) {
		s.reason = ReasonExpired
		s.lru.Remove(key)
		return nil, false
	}
	return e, true
}

// Del removes key and reports whether it was present.
func (s *LocalStore) Del(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reason = ReasonDeleted
	return s.lru.Remove(key)
}

// DelMany removes keys and returns how many were present.
func (s *LocalStore) DelMany(keys []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reason = ReasonDeleted
	n := 0
	for _, key := range keys {
		if s.lru.Remove(key) {
			n++
		}
	}
	return n
}

// DelPattern removes every key matching the glob pattern.
func (s *LocalStore) DelPattern(pattern string) (int, error) {
	if err := cache.ValidatePattern(pattern); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reason = ReasonDeleted
	n := 0
	for _, key := range s.lru.Keys() {
		if ok, _ := cache.MatchPattern(pattern, key); ok && s.lru.Remove(key) {
			n++
		}
	}
	return n, nil
}

// Keys lists unexpired keys matching pattern, least recently used first.
// An empty pattern matches every key.
func (s *LocalStore) Keys(pattern string) ([]string, error) {
	if pattern != "" {
		if err := cache.ValidatePattern(pattern); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var out []string
	for _, key := range s.lru.Keys() {
		e, ok := s.lru.Peek(key)
		if !ok {
			continue
		}
		if e.expired(now) {
			s.reason = ReasonExpired
			s.lru.Remove(key)
			continue
		}
		if pattern == "" {
			out = append(out, key)
			continue
		}
		if ok, _ := cache.MatchPattern(pattern, key); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

// Clear removes every entry.
func (s *LocalStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reason = ReasonCleared
	s.lru.Purge()
}

// Len returns the number of stored entries, including expired entries not
// yet swept.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Stats returns a snapshot of the counters.
func (s *LocalStore) Stats() LocalStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// DeleteExpired sweeps every expired entry and returns how many were removed.
func (s *LocalStore) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.reason = ReasonExpired
	n := 0
	for _, key := range s.lru.Keys() {
		if e, ok := s.lru.Peek(key); ok && e.expired(now) {
			s.lru.Remove(key)
			n++
		}
	}
	return n
}

func (s *LocalStore) janitor(interval time.Duration) {
	defer s.done.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.DeleteExpired()
		case <-s.stopChan:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (s *LocalStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.done.Wait()
}

// approxSize is a rough per-entry footprint used for the ApproxBytes stat.
func approxSize(key string, value any) int {
	const overhead = 64
	n := len(key) + overhead
	switch v := value.(type) {
	case nil:
	case string:
		n += len(v)
	case []byte:
		n += len(v)
	case cache.Binary:
		n += len(v)
	case map[string]any:
		n += len(v) * overhead
	case []any:
		n += len(v) * overhead
	case []map[string]any:
		for _, doc := range v {
			n += len(doc) * overhead
		}
	default:
		n += 16
	}
	return n
}
