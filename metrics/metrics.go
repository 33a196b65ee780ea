// Package metrics exposes engine counters on the default prometheus
// registry. Collectors are registered once and shared process-wide.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all engine metrics.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheBytes     prometheus.Gauge

	APIRequests *prometheus.CounterVec

	JobsCompleted      prometheus.Counter
	JobsFailed         prometheus.Counter
	JobsShortCircuited prometheus.Counter
	BytesDownloaded    prometheus.Counter
}

var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// New returns the process-wide metrics instance, creating and registering
// it on first use.
func New() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e6grab_cache_hits_total",
			Help: "Total number of response cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e6grab_cache_misses_total",
			Help: "Total number of response cache misses",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e6grab_cache_evictions_total",
			Help: "Total number of response cache entries evicted",
		}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "e6grab_cache_bytes",
			Help: "Current response cache size in bytes",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "e6grab_api_requests_total",
			Help: "Total number of API requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e6grab_download_jobs_completed_total",
			Help: "Total number of download jobs that completed",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e6grab_download_jobs_failed_total",
			Help: "Total number of download jobs that failed",
		}),
		JobsShortCircuited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e6grab_download_jobs_short_circuited_total",
			Help: "Total number of jobs satisfied by already-present files",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "e6grab_bytes_downloaded_total",
			Help: "Total media bytes written to disk",
		}),
	}

	registerOrGet(m.CacheHits)
	registerOrGet(m.CacheMisses)
	registerOrGet(m.CacheEvictions)
	registerOrGet(m.CacheBytes)
	registerOrGet(m.APIRequests)
	registerOrGet(m.JobsCompleted)
	registerOrGet(m.JobsFailed)
	registerOrGet(m.JobsShortCircuited)
	registerOrGet(m.BytesDownloaded)

	globalMetrics = m
	return m
}

// registerOrGet registers a collector, tolerating re-registration.
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
