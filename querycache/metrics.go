package querycache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports coordinator stats to Prometheus. Values are read from
// GetStats at scrape time.
type Collector struct {
	cache *Coordinator

	hits            *prometheus.Desc
	misses          *prometheus.Desc
	sets            *prometheus.Desc
	evictions       *prometheus.Desc
	expiredRemovals *prometheus.Desc
	invalidations   *prometheus.Desc
	entries         *prometheus.Desc
	approxBytes     *prometheus.Desc
	registrations   *prometheus.Desc
	remoteHits      *prometheus.Desc
	remoteMisses    *prometheus.Desc
	remoteErrors    *prometheus.Desc
	backfills       *prometheus.Desc
	remoteOpen      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for c under the given metric namespace.
func NewCollector(c *Coordinator, namespace string) *Collector {
	labels := prometheus.Labels{"instance_id": c.InstanceID()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "query_cache", name), help, nil, labels)
	}

	return &Collector{
		cache:           c,
		hits:            desc("hits_total", "Cache lookups answered from either tier"),
		misses:          desc("misses_total", "Cache lookups that found nothing"),
		sets:            desc("sets_total", "Values stored"),
		evictions:       desc("evictions_total", "Local entries evicted by capacity"),
		expiredRemovals: desc("expired_removals_total", "Local entries removed after their TTL"),
		invalidations:   desc("invalidations_total", "Entries removed by precision or coarse invalidation"),
		entries:         desc("entries", "Current local entries"),
		approxBytes:     desc("approx_bytes", "Approximate memory held by local values"),
		registrations:   desc("registrations", "Query shapes registered for invalidation"),
		remoteHits:      desc("remote_hits_total", "Lookups answered by the remote tier"),
		remoteMisses:    desc("remote_misses_total", "Remote lookups that found nothing"),
		remoteErrors:    desc("remote_errors_total", "Failed or timed out remote calls"),
		backfills:       desc("backfills_total", "Remote hits copied into the local tier"),
		remoteOpen:      desc("remote_breaker_open", "1 when the remote circuit breaker is open"),
	}
}

// Describe implements prometheus.Collector.
func (m *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		m.hits, m.misses, m.sets, m.evictions, m.expiredRemovals, m.invalidations,
		m.entries, m.approxBytes, m.registrations,
		m.remoteHits, m.remoteMisses, m.remoteErrors, m.backfills, m.remoteOpen,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (m *Collector) Collect(ch chan<- prometheus.Metric) {
	s := m.cache.GetStats()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(m.hits, s.Hits)
	counter(m.misses, s.Misses)
	counter(m.sets, s.Sets)
	counter(m.evictions, s.Evictions)
	counter(m.expiredRemovals, s.ExpiredRemovals)
	counter(m.invalidations, s.Invalidations)
	gauge(m.entries, float64(s.Size))
	gauge(m.approxBytes, float64(s.ApproxBytes))
	gauge(m.registrations, float64(m.cache.Registry().Len()))
	counter(m.remoteHits, s.RemoteHits)
	counter(m.remoteMisses, s.RemoteMisses)
	counter(m.remoteErrors, s.RemoteErrors)
	counter(m.backfills, s.Backfills)

	open := 0.0
	if m.cache.RemoteState() == "open" {
		open = 1
	}
	gauge(m.remoteOpen, open)
}
