package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CollectionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_collection_runs_total",
			Help: "Collection runs by source and final status",
		},
		[]string{"source", "status"},
	)

	ItemsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_items_collected_total",
			Help: "Normalized records parsed per source",
		},
		[]string{"source"},
	)

	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_auth_attempts_total",
			Help: "Authentication attempts by source and result",
		},
		[]string{"source", "result"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrike_cache_requests_total",
			Help: "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	ActiveEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shrike_active_entries",
			Help: "Active blacklist entries by source after the last merge",
		},
		[]string{"source"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shrike_run_duration_seconds",
			Help:    "Wall time of collection runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9),
		},
		[]string{"source"},
	)
)
