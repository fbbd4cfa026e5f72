package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ffxiv-tools/marketboard-backend/internal/database"
	"github.com/ffxiv-tools/marketboard-backend/internal/metrics"
)

// RefreshWorker periodically forces a full refresh of every tracked item
// for the configured worlds, bypassing staleness checks. It shares the
// per-item refresh primitive (and its failure semantics) with the read
// path.
type RefreshWorker struct {
	services []*ItemService
	worlds   []string
	interval time.Duration

	mu             sync.RWMutex
	lastRunTime    time.Time
	lastRunItems   int
	lastRunError   string
	totalRefreshed int
	runs           int
}

// RefreshStatus is the worker's operator-visible state
type RefreshStatus struct {
	LastRunTime    time.Time `json:"last_run_time"`
	NextRunTime    time.Time `json:"next_run_time"`
	LastRunItems   int       `json:"last_run_items"`
	LastRunError   string    `json:"last_run_error,omitempty"`
	TotalRefreshed int       `json:"total_refreshed"`
	Runs           int       `json:"runs"`
	Worlds         []string  `json:"worlds"`
	Interval       string    `json:"interval"`
}

// NewRefreshWorker creates a bulk refresh worker over the given category
// services. An empty world list lets each service fall back to its
// default world.
func NewRefreshWorker(services []*ItemService, worlds []string, interval time.Duration) *RefreshWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RefreshWorker{
		services: services,
		worlds:   worlds,
		interval: interval,
	}
}

// Start begins the background refresh loop
func (w *RefreshWorker) Start(ctx context.Context) {
	log.Printf("Refresh worker started: refreshing %d categories every %v (worlds %v)",
		len(w.services), w.interval, w.worlds)

	// Run immediately on startup
	if refreshed, err := w.RunOnce(ctx); err != nil {
		log.Printf("Refresh worker: initial run failed: %v", err)
	} else {
		log.Printf("Refresh worker: initial run refreshed %d items", refreshed)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Refresh worker stopping...")
			return
		case <-ticker.C:
			if refreshed, err := w.RunOnce(ctx); err != nil {
				log.Printf("Refresh worker: run failed: %v", err)
			} else if refreshed > 0 {
				log.Printf("Refresh worker: refreshed %d items", refreshed)
			}
		}
	}
}

// RunOnce refreshes every category once. A category that fails is logged
// and recorded but does not stop the remaining categories.
func (w *RefreshWorker) RunOnce(ctx context.Context) (int, error) {
	refreshed := 0
	var lastErr error
	for _, svc := range w.services {
		items, err := svc.UpdateAllItems(ctx, w.worlds...)
		if err != nil {
			log.Printf("Refresh worker: %s refresh failed: %v", svc.Category(), err)
			lastErr = err
			continue
		}
		refreshed += len(items)
	}

	w.mu.Lock()
	w.lastRunTime = time.Now()
	w.lastRunItems = refreshed
	w.totalRefreshed += refreshed
	w.runs++
	if lastErr != nil {
		w.lastRunError = lastErr.Error()
	} else {
		w.lastRunError = ""
	}
	w.mu.Unlock()

	metrics.WorkerRunsTotal.Inc()
	metrics.WorkerItemsRefreshed.Set(float64(refreshed))
	if db := database.GetDB(); db != nil {
		metrics.UpdateItemMetrics(db)
	}

	return refreshed, lastErr
}

// GetStatus returns the current worker status
func (w *RefreshWorker) GetStatus() RefreshStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := RefreshStatus{
		LastRunTime:    w.lastRunTime,
		LastRunItems:   w.lastRunItems,
		LastRunError:   w.lastRunError,
		TotalRefreshed: w.totalRefreshed,
		Runs:           w.runs,
		Worlds:         w.worlds,
		Interval:       w.interval.String(),
	}
	if !w.lastRunTime.IsZero() {
		status.NextRunTime = w.lastRunTime.Add(w.interval)
	}
	return status
}
