package querycache

import (
	"sync/atomic"

	"github.com/vextjs/monsqlize/cache"
	"github.com/vextjs/monsqlize/internal/cacheinfra"
)

// statsCollector holds the coordinator-level counters. Evictions, expired
// removals and memory come from the local store.
type statsCollector struct {
	enabled bool

	hits          atomic.Uint64
	misses        atomic.Uint64
	sets          atomic.Uint64
	invalidations atomic.Uint64
	remoteHits    atomic.Uint64
	remoteMisses  atomic.Uint64
	remoteErrors  atomic.Uint64
	backfills     atomic.Uint64
}

func (s *statsCollector) add(c *atomic.Uint64, n uint64) {
	if s.enabled && n > 0 {
		c.Add(n)
	}
}

func (s *statsCollector) inc(c *atomic.Uint64) {
	s.add(c, 1)
}

func (s *statsCollector) snapshot(local cacheinfra.LocalStats, size int) cache.Stats {
	st := cache.Stats{Size: size}
	if !s.enabled {
		return st
	}
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	st.Sets = s.sets.Load()
	st.Invalidations = s.invalidations.Load()
	st.RemoteHits = s.remoteHits.Load()
	st.RemoteMisses = s.remoteMisses.Load()
	st.RemoteErrors = s.remoteErrors.Load()
	st.Backfills = s.backfills.Load()
	st.Evictions = local.Evictions
	st.ExpiredRemovals = local.ExpiredRemovals
	st.ApproxBytes = local.ApproxBytes
	return st
}
