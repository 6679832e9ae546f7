// Package metrics provides Prometheus metrics for sift.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tree index metrics
	indexBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_index_builds_total",
			Help: "Total number of tree index builds",
		},
		[]string{"status"},
	)

	indexBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sift_index_build_duration_seconds",
			Help:    "Time spent listing and flattening a directory tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	indexCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_index_cache_lookups_total",
			Help: "Tree index cache lookups",
		},
		[]string{"result"},
	)

	// Cost cache metrics
	costCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_cost_cache_lookups_total",
			Help: "Cost cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	storeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_store_failures_total",
			Help: "Persistent store load/save failures",
		},
		[]string{"category", "op"},
	)

	// Worker metrics
	workerItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_worker_items_total",
			Help: "Items processed by background token counting",
		},
		[]string{"kind", "source"},
	)

	workerBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_worker_batches_emitted_total",
			Help: "Progress events emitted by background runs",
		},
		[]string{"event"},
	)

	workerSuperseded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sift_worker_superseded_total",
			Help: "Background runs abandoned because a newer run replaced them",
		},
		[]string{"kind"},
	)

	workerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sift_worker_queue_depth",
			Help: "Jobs waiting in the worker pool",
		},
	)

	// Event metrics
	eventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sift_event_subscribers",
			Help: "Active event subscribers",
		},
	)

	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sift_events_dropped_total",
			Help: "Events dropped for slow subscribers",
		},
	)
)

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordIndexBuild records one index build attempt.
func RecordIndexBuild(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	indexBuildsTotal.WithLabelValues(status).Inc()
	indexBuildDuration.Observe(d.Seconds())
}

// RecordIndexLookup records a tree index cache hit or miss.
func RecordIndexLookup(hit bool) {
	indexCacheLookups.WithLabelValues(result(hit)).Inc()
}

// RecordCostLookup records a cost cache hit or miss.
func RecordCostLookup(cache string, hit bool) {
	costCacheLookups.WithLabelValues(cache, result(hit)).Inc()
}

// RecordStoreFailure records a swallowed persistence failure.
func RecordStoreFailure(category, op string) {
	storeFailures.WithLabelValues(category, op).Inc()
}

// RecordWorkerItem records one processed item; source is "cache" or "computed".
func RecordWorkerItem(kind, source string) {
	workerItems.WithLabelValues(kind, source).Inc()
}

// RecordBatch records one emitted progress event.
func RecordBatch(event string) {
	workerBatches.WithLabelValues(event).Inc()
}

// RecordSuperseded records an abandoned run.
func RecordSuperseded(kind string) {
	workerSuperseded.WithLabelValues(kind).Inc()
}

// SetQueueDepth sets the number of queued jobs.
func SetQueueDepth(n int) {
	workerQueueDepth.Set(float64(n))
}

// SetSubscribers sets the number of event subscribers.
func SetSubscribers(n int) {
	eventSubscribers.Set(float64(n))
}

// RecordEventDropped records an event dropped for a slow consumer.
func RecordEventDropped() {
	eventsDropped.Inc()
}

func result(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
