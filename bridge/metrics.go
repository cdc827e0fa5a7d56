package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes cache state and counters as Prometheus metrics.
// Register it with any prometheus.Registerer:
//
//	reg.MustRegister(bridge.NewCollector(cache, "objlink"))
type Collector struct {
	cache *Cache

	live        *prometheus.Desc
	strong      *prometheus.Desc
	hits        *prometheus.Desc
	misses      *prometheus.Desc
	evictions   *prometheus.Desc
	removals    *prometheus.Desc
	escalations *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for c. The namespace prefixes every
// metric name; pass "" for none.
func NewCollector(c *Cache, namespace string) *Collector {
	name := func(s string) string {
		return prometheus.BuildFQName(namespace, "cache", s)
	}
	return &Collector{
		cache: c,
		live: prometheus.NewDesc(name("entries_live"),
			"Cache entries whose wrapper is currently reachable.", nil, nil),
		strong: prometheus.NewDesc(name("entries_strong"),
			"Cache entries escalated to strong retention.", nil, nil),
		hits: prometheus.NewDesc(name("hits_total"),
			"Lookups that returned an existing wrapper.", nil, nil),
		misses: prometheus.NewDesc(name("misses_total"),
			"Lookups that constructed a new wrapper.", nil, nil),
		evictions: prometheus.NewDesc(name("evictions_total"),
			"Weak entries evicted after GC reclaimed their wrapper.", nil, nil),
		removals: prometheus.NewDesc(name("removals_total"),
			"Entries removed by native deallocation observers.", nil, nil),
		escalations: prometheus.NewDesc(name("escalations_total"),
			"Weak-to-strong retention transitions.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- col.live
	ch <- col.strong
	ch <- col.hits
	ch <- col.misses
	ch <- col.evictions
	ch <- col.removals
	ch <- col.escalations
}

// Collect implements prometheus.Collector.
func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	s := col.cache.Stats()
	ch <- prometheus.MustNewConstMetric(col.live, prometheus.GaugeValue, float64(s.Live))
	ch <- prometheus.MustNewConstMetric(col.strong, prometheus.GaugeValue, float64(s.Strong))
	ch <- prometheus.MustNewConstMetric(col.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(col.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(col.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(col.removals, prometheus.CounterValue, float64(s.Removals))
	ch <- prometheus.MustNewConstMetric(col.escalations, prometheus.CounterValue, float64(s.Escalations))
}
