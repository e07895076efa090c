package residency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timegrid",
		Subsystem: "residency",
		Name:      "fetches_total",
		Help:      "Bucket fetches by outcome.",
	}, []string{"outcome"})

	fetchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "timegrid",
		Subsystem: "residency",
		Name:      "fetch_duration_seconds",
		Help:      "Bucket fetch duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timegrid",
		Subsystem: "residency",
		Name:      "evictions_total",
		Help:      "Buckets evicted to stay within the resident budget.",
	})

	staleCompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timegrid",
		Subsystem: "residency",
		Name:      "stale_completions_total",
		Help:      "Fetch completions discarded because the bucket moved on.",
	})

	cancelledBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timegrid",
		Subsystem: "residency",
		Name:      "cancelled_batches_total",
		Help:      "Fetch batches cancelled before completion.",
	})

	residentBuckets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "timegrid",
		Subsystem: "residency",
		Name:      "resident_buckets",
		Help:      "Number of buckets currently resident.",
	})

	residentItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "timegrid",
		Subsystem: "residency",
		Name:      "resident_items",
		Help:      "Number of items currently resident.",
	})
)
