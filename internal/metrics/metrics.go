package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors on a private registry,
// so tests and repeated sessions never collide on the default one.
type Metrics struct {
	Registry *prometheus.Registry

	FetchTotal    *prometheus.CounterVec
	CacheEvents   *prometheus.CounterVec
	ItemsTotal    *prometheus.CounterVec
	RetriesTotal  *prometheus.CounterVec
	BatchesTotal  prometheus.Counter
	SearchTotal   *prometheus.CounterVec
	FreshPruned   prometheus.Counter
	CacheBytes    prometheus.Gauge
	CacheEntries  prometheus.Gauge
	RenderedItems prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverd_fetch_total",
			Help: "Relay fetches by result",
		}, []string{"result"}), // ok, timeout, http_status, network
		CacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverd_cache_events_total",
			Help: "Content cache events",
		}, []string{"event"}), // hit, miss, put, evict, degraded
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverd_items_total",
			Help: "Rendered grid items by final state",
		}, []string{"state"}), // loaded, fallback, dropped
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverd_retries_total",
			Help: "Retries scheduled by operation",
		}, []string{"op"}), // image, page, search
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coverd_batches_total",
			Help: "Batches appended to the grid",
		}),
		SearchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coverd_search_total",
			Help: "Searches by result",
		}, []string{"result"}), // ok, empty, error, invalid, skipped
		FreshPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coverd_fresh_pruned_total",
			Help: "Cache entries removed by the freshness check",
		}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coverd_cache_bytes",
			Help: "Bytes currently held by the content cache",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coverd_cache_entries",
			Help: "Entries currently held by the content cache",
		}),
		RenderedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coverd_grid_items",
			Help: "Items currently in the grid",
		}),
	}

	m.Registry.MustRegister(
		m.FetchTotal, m.CacheEvents, m.ItemsTotal, m.RetriesTotal, m.BatchesTotal,
		m.SearchTotal, m.FreshPruned, m.CacheBytes, m.CacheEntries, m.RenderedItems,
	)

	return m
}

func (m *Metrics) IncFetch(result string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCache(event string) {
	if m == nil {
		return
	}
	m.CacheEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetCacheSize(bytes int64, entries int) {
	if m == nil {
		return
	}
	m.CacheBytes.Set(float64(bytes))
	m.CacheEntries.Set(float64(entries))
}

func (m *Metrics) IncItem(state string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) IncRetry(op string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) IncBatch(gridLen int) {
	if m == nil {
		return
	}
	m.BatchesTotal.Inc()
	m.RenderedItems.Set(float64(gridLen))
}

func (m *Metrics) IncSearch(result string) {
	if m == nil {
		return
	}
	m.SearchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncFreshPruned() {
	if m == nil {
		return
	}
	m.FreshPruned.Inc()
}

// WriteFile dumps the registry in the Prometheus text format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
