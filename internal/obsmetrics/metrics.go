// Package obsmetrics exposes Prometheus metrics for the File Transfer
// Core. The Manager increments these as a side effect of its event loop;
// no metrics logic participates in correctness.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters and gauges the core emits.
type Metrics struct {
	registry *prometheus.Registry

	ChunksServed     prometheus.Counter
	ChunksReceived   prometheus.Counter
	ChunksVerified   prometheus.Counter
	ChunksFailed     *prometheus.CounterVec
	SessionsTerminal *prometheus.CounterVec
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	SessionsActive   prometheus.Gauge
}

// New constructs and registers the metrics against a fresh registry, so
// that multiple independent Managers (as in tests) never collide on
// metric names the way they would against the global default registerer.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChunksServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "corelink_chunks_served_total",
			Help: "Chunks served to peers from the upload registry.",
		}),
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "corelink_chunks_received_total",
			Help: "Chunk payloads received on download sessions, verified or not.",
		}),
		ChunksVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "corelink_chunks_verified_total",
			Help: "Chunks that passed integrity verification and were written.",
		}),
		ChunksFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corelink_chunks_failed_total",
			Help: "Chunk attempts that failed, by reason.",
		}, []string{"reason"}),
		SessionsTerminal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corelink_sessions_terminal_total",
			Help: "Download sessions reaching a terminal status, by status.",
		}, []string{"status"}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "corelink_cache_hits_total",
			Help: "Chunk cache hits.",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "corelink_cache_misses_total",
			Help: "Chunk cache misses.",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "corelink_sessions_active",
			Help: "Currently active download sessions.",
		}),
	}
}

// Handler exposes this instance's Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
