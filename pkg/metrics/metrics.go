package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conserver_cache_hits_total",
			Help: "Total number of vCon cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conserver_cache_misses_total",
			Help: "Total number of vCon cache misses",
		},
	)

	CachePullThroughs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserver_cache_pull_through_total",
			Help: "Total number of cache fills from storage backends",
		},
		[]string{"backend"},
	)

	// Chain metrics
	ChainExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserver_chain_executions_total",
			Help: "Total number of chain executions by chain and outcome",
		},
		[]string{"chain", "outcome"},
	)

	ChainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conserver_chain_duration_seconds",
			Help:    "Total chain execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conserver_stage_duration_seconds",
			Help:    "Per-stage wall clock duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "stage"},
	)

	StorageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conserver_storage_duration_seconds",
			Help:    "Per-storage save duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"storage"},
	)

	StorageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserver_storage_failures_total",
			Help: "Total number of failed storage saves",
		},
		[]string{"storage"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conserver_queue_depth",
			Help: "Current number of items on each ingress queue",
		},
		[]string{"queue"},
	)

	DLQDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conserver_dlq_depth",
			Help: "Current number of items on each dead-letter queue",
		},
		[]string{"queue"},
	)

	ItemsPopped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserver_items_popped_total",
			Help: "Total number of items popped per queue",
		},
		[]string{"queue"},
	)

	DLQPlacements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserver_dlq_placements_total",
			Help: "Total number of items dead-lettered by queue and classification",
		},
		[]string{"queue", "classification"},
	)

	// Worker metrics
	WorkersAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conserver_workers_alive",
			Help: "Number of live worker loops",
		},
	)

	WorkerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conserver_worker_restarts_total",
			Help: "Total number of worker restarts by the supervisor",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CachePullThroughs)
	prometheus.MustRegister(ChainExecutions)
	prometheus.MustRegister(ChainDuration)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StorageDuration)
	prometheus.MustRegister(StorageFailures)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(DLQDepth)
	prometheus.MustRegister(ItemsPopped)
	prometheus.MustRegister(DLQPlacements)
	prometheus.MustRegister(WorkersAlive)
	prometheus.MustRegister(WorkerRestarts)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
