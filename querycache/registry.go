package querycache

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/vextjs/monsqlize/cache"
	"github.com/vextjs/monsqlize/internal/cacheinfra"
	"github.com/vextjs/monsqlize/internal/filter"
)

// Registration ties a live cache key to the query shape that produced it.
// Registrations are immutable; updates replace them.
type Registration struct {
	Key        string
	Query      cache.Query
	Complexity filter.Complexity
	InLocal    bool
	InRemote   bool
	ExpiresAt  time.Time
}

func (r *Registration) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type keySet = xsync.MapOf[string, *Registration]

// Registry indexes registrations by key and by namespace, and keeps a write
// epoch per namespace. All per-key changes go through Compute on the key
// index, which serializes them and keeps the namespace index in step.
type Registry struct {
	byKey  *xsync.MapOf[string, *Registration]
	byNS   *xsync.MapOf[cache.Namespace, *keySet]
	epochs *xsync.MapOf[cache.Namespace, *atomic.Uint64]
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  xsync.NewMapOf[string, *Registration](),
		byNS:   xsync.NewMapOf[cache.Namespace, *keySet](),
		epochs: xsync.NewMapOf[cache.Namespace, *atomic.Uint64](),
		now:    time.Now,
	}
}

func (r *Registry) namespace(ns cache.Namespace) *keySet {
	set, _ := r.byNS.LoadOrCompute(ns, func() *keySet {
		return xsync.NewMapOf[string, *Registration]()
	})
	return set
}

// Register records that key now holds the result of q, replacing any
// previous registration for the key. Entries claiming InLocal are
// registered from the local store's SetIf condition so that an eviction
// can never be reported before the registration exists.
func (r *Registry) Register(key string, q cache.Query, ttl time.Duration, inLocal, inRemote bool) *Registration {
	reg := &Registration{
		Key:        key,
		Query:      q,
		Complexity: filter.Analyze(q.Filter),
		InLocal:    inLocal,
		InRemote:   inRemote,
	}
	if ttl > 0 {
		reg.ExpiresAt = r.now().Add(ttl)
	}

	r.byKey.Compute(key, func(old *Registration, loaded bool) (*Registration, bool) {
		if loaded && old.Query.Namespace != q.Namespace {
			r.namespace(old.Query.Namespace).Delete(key)
		}
		r.namespace(q.Namespace).Store(key, reg)
		return reg, false
	})
	return reg
}

// ClearRemote records that the remote write behind reg failed. It only
// acts while reg is still the key's current registration: the entry is
// dropped when it is not held locally either, otherwise InRemote is cleared.
func (r *Registry) ClearRemote(key string, reg *Registration) {
	r.byKey.Compute(key, func(old *Registration, loaded bool) (*Registration, bool) {
		if !loaded {
			return nil, true
		}
		if old != reg {
			return old, false
		}
		if !old.InLocal {
			r.namespace(old.Query.Namespace).Delete(key)
			return nil, true
		}
		next := *old
		next.InRemote = false
		r.namespace(old.Query.Namespace).Store(key, &next)
		return &next, false
	})
}

// Lookup returns the registration for key.
func (r *Registry) Lookup(key string) (*Registration, bool) {
	return r.byKey.Load(key)
}

// Unregister removes key and reports whether it was registered.
func (r *Registry) Unregister(key string) bool {
	removed := false
	r.byKey.Compute(key, func(old *Registration, loaded bool) (*Registration, bool) {
		if loaded {
			r.namespace(old.Query.Namespace).Delete(key)
			removed = true
		}
		return nil, true
	})
	return removed
}

// UnregisterMany removes every key in keys.
func (r *Registry) UnregisterMany(keys []string) {
	for _, key := range keys {
		r.Unregister(key)
	}
}

// UnregisterPattern removes every registration whose key matches the glob.
func (r *Registry) UnregisterPattern(pattern string) int {
	var keys []string
	r.byKey.Range(func(key string, _ *Registration) bool {
		if ok, _ := cache.MatchPattern(pattern, key); ok {
			keys = append(keys, key)
		}
		return true
	})
	n := 0
	for _, key := range keys {
		if r.Unregister(key) {
			n++
		}
	}
	return n
}

// LocalRemoved is the local store's removal listener. Expiry, deletes and
// clears drop the registration. An eviction only clears InLocal when the
// remote tier still holds the entry.
func (r *Registry) LocalRemoved(key string, reason cacheinfra.RemovalReason) {
	r.byKey.Compute(key, func(old *Registration, loaded bool) (*Registration, bool) {
		if !loaded {
			return nil, true
		}
		if reason == cacheinfra.ReasonEvicted && old.InRemote {
			next := *old
			next.InLocal = false
			r.namespace(old.Query.Namespace).Store(key, &next)
			return &next, false
		}
		r.namespace(old.Query.Namespace).Delete(key)
		return nil, true
	})
}

// ForNamespace returns a snapshot of the live registrations of ns. Expired
// registrations found on the way are dropped.
func (r *Registry) ForNamespace(ns cache.Namespace) []*Registration {
	set, ok := r.byNS.Load(ns)
	if !ok {
		return nil
	}

	now := r.now()
	var (
		out     []*Registration
		expired []string
	)
	set.Range(func(key string, reg *Registration) bool {
		if reg.expired(now) {
			expired = append(expired, key)
			return true
		}
		out = append(out, reg)
		return true
	})
	r.UnregisterMany(expired)
	return out
}

// Epoch returns the write epoch of ns.
func (r *Registry) Epoch(ns cache.Namespace) uint64 {
	counter, ok := r.epochs.Load(ns)
	if !ok {
		return 0
	}
	return counter.Load()
}

// BumpEpoch marks a write to ns. Fills that started before the bump must not
// be cached.
func (r *Registry) BumpEpoch(ns cache.Namespace) uint64 {
	counter, _ := r.epochs.LoadOrCompute(ns, func() *atomic.Uint64 {
		return new(atomic.Uint64)
	})
	return counter.Add(1)
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	return r.byKey.Size()
}

// Clear drops every registration. Epochs are kept so in-flight fills still
// see writes that happened before the clear.
func (r *Registry) Clear() {
	r.byKey.Range(func(key string, _ *Registration) bool {
		r.Unregister(key)
		return true
	})
}
