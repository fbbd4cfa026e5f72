// Package metrics provides Prometheus metrics for the marketboard backend.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mb_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mb_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Refresh engine metrics
	CellRefreshesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mb_cell_refreshes_total",
			Help: "Total number of (item, world) price cells refreshed",
		},
	)

	CellRefreshFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mb_cell_refresh_failures_total",
			Help: "Price cell refresh failures by kind",
		},
		[]string{"kind"}, // "not_found", "malformed", "network"
	)

	StaleCellsFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mb_stale_cells_found_total",
			Help: "Stale or missing price cells detected during reads",
		},
	)

	RefreshBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mb_refresh_batch_duration_seconds",
			Help:    "Time taken to refresh the stale portion of a read",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Universalis API metrics
	UniversalisRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mb_universalis_requests_total",
			Help: "Total number of Universalis API requests made",
		},
	)

	UniversalisErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mb_universalis_errors_total",
			Help: "Universalis API errors by type",
		},
		[]string{"type"}, // "network", "not_found", "malformed"
	)

	UniversalisNotFoundCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mb_universalis_not_found_cache_hits_total",
			Help: "Fetches short-circuited by the not-found negative cache",
		},
	)

	// Background worker metrics
	WorkerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mb_worker_runs_total",
			Help: "Total number of background bulk refresh runs",
		},
	)

	WorkerItemsRefreshed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mb_worker_items_refreshed",
			Help: "Items refreshed by the most recent background run",
		},
	)

	// Tracked item metrics
	ItemsTracked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mb_items_tracked",
			Help: "Number of tracked items by category",
		},
		[]string{"category"},
	)
)

// UpdateItemMetrics refreshes the per-category tracked item gauges
func UpdateItemMetrics(db *gorm.DB) {
	rows, err := db.Raw(`SELECT category, COUNT(*) FROM items GROUP BY category`).Rows()
	if err != nil {
		log.Printf("Failed to update item metrics: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count float64
		if err := rows.Scan(&category, &count); err != nil {
			continue
		}
		ItemsTracked.WithLabelValues(category).Set(count)
	}
}
