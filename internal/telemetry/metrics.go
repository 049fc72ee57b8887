package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide registry of build-engine gauges and counters.
// coordinatord creates one and serves its Registry on /metrics; no other
// component is handed a Metrics, so nothing in this module updates these
// collectors.
type Metrics struct {
	Registry *prometheus.Registry

	ActionsScheduled  *prometheus.CounterVec
	ActionsCompleted  *prometheus.CounterVec
	ActionDuration    *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec
	ShardContention   *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CASBytesStored    prometheus.Gauge
	CASObjectsEvicted prometheus.Counter
	StealAttempts     prometheus.Counter
	StealSuccesses    prometheus.Counter
	PeersQuarantined  prometheus.Gauge
}

// NewMetrics builds and registers a fresh metric set against its own
// registry, so multiple engine instances in one test process don't collide
// on prometheus's default global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ActionsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bldr_actions_scheduled_total",
			Help: "Actions handed to the scheduler, by priority class.",
		}, []string{"priority"}),
		ActionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bldr_actions_completed_total",
			Help: "Actions that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bldr_action_duration_seconds",
			Help:    "Wall-clock duration of sandboxed action execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bldr_scheduler_queue_depth",
			Help: "Current ready-queue depth per shard.",
		}, []string{"shard"}),
		ShardContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bldr_scheduler_shard_contention_total",
			Help: "Lock-contention retries when dequeuing from a shard.",
		}, []string{"shard"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bldr_actioncache_hits_total",
			Help: "Action cache lookups that found a valid cached result.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bldr_actioncache_misses_total",
			Help: "Action cache lookups that required execution.",
		}),
		CASBytesStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bldr_cas_bytes_stored",
			Help: "Total bytes currently held in the content-addressable store.",
		}),
		CASObjectsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bldr_cas_objects_evicted_total",
			Help: "Objects removed from the CAS by an eviction policy.",
		}),
		StealAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bldr_cluster_steal_attempts_total",
			Help: "Work-stealing attempts initiated by an idle worker.",
		}),
		StealSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bldr_cluster_steal_successes_total",
			Help: "Work-stealing attempts that returned at least one action.",
		}),
		PeersQuarantined: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bldr_cluster_peers_quarantined",
			Help: "Peers currently excluded from assignment due to low trust.",
		}),
	}

	reg.MustRegister(
		m.ActionsScheduled, m.ActionsCompleted, m.ActionDuration,
		m.QueueDepth, m.ShardContention, m.CacheHits, m.CacheMisses,
		m.CASBytesStored, m.CASObjectsEvicted, m.StealAttempts,
		m.StealSuccesses, m.PeersQuarantined,
	)
	return m
}

// Handler returns the HTTP handler that serves this registry in the
// Prometheus exposition format, for mounting under /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
