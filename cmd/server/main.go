package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ffxiv-tools/marketboard-backend/internal/api"
	"github.com/ffxiv-tools/marketboard-backend/internal/config"
	"github.com/ffxiv-tools/marketboard-backend/internal/database"
	"github.com/ffxiv-tools/marketboard-backend/internal/models"
	"github.com/ffxiv-tools/marketboard-backend/internal/servers"
	"github.com/ffxiv-tools/marketboard-backend/internal/services"
	"github.com/ffxiv-tools/marketboard-backend/internal/storage"
)

func main() {
	cfg := config.Load()

	// Initialize database
	if err := database.Initialize(cfg.DBPath); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// World/datacenter topology
	serverSet, err := servers.New(servers.DefaultDatacenters(), cfg.DefaultWorld)
	if err != nil {
		log.Fatalf("Failed to build server set: %v", err)
	}

	// Universalis market data source
	universalis := services.NewUniversalisClient(cfg.UniversalisBaseURL, cfg.UniversalisRPS)

	// One cache engine and seed loader per item category
	store := storage.NewItemStore(database.GetDB())
	itemServices := make(map[models.Category]*services.ItemService)
	loaders := make(map[models.Category]*services.SeedLoader)
	var serviceList []*services.ItemService
	for _, category := range models.AllCategories() {
		spec, ok := models.SpecFor(category)
		if !ok {
			log.Fatalf("No category spec for %s", category)
		}
		svc := services.NewItemService(store, universalis, serverSet, spec, cfg.PriceTTL, cfg.RefreshConcurrency)
		itemServices[category] = svc
		loaders[category] = services.NewSeedLoader(store, svc)
		serviceList = append(serviceList, svc)
	}

	// Create a cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed catalogs on startup (if enabled)
	if os.Getenv("SEED_ON_STARTUP") == "true" {
		go func() {
			catalogPaths := map[models.Category]string{
				models.CategoryPhantasmagoria: cfg.PhantasmagoriaCatalogPath,
				models.CategoryGatherable:     cfg.GatherableCatalogPath,
				models.CategoryAethersand:     cfg.AethersandCatalogPath,
			}
			for category, loader := range loaders {
				results, err := loader.AddAllItems(ctx, catalogPaths[category])
				if err != nil {
					log.Printf("Seeding %s failed: %v", category, err)
					continue
				}
				rejected := 0
				for _, r := range results {
					if r.Status == services.SettledRejected {
						rejected++
					}
				}
				log.Printf("Seeded %s: %d attempted, %d rejected", category, len(results), rejected)
			}
		}()
	}

	// Start refresh worker in background with panic recovery
	worker := services.NewRefreshWorker(serviceList, cfg.WorkerWorlds, cfg.WorkerInterval)
	go func() {
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("PANIC in refresh worker: %v - restarting in 30 seconds", r)
					}
				}()
				worker.Start(ctx)
			}()

			select {
			case <-ctx.Done():
				return // Graceful shutdown
			case <-time.After(30 * time.Second):
				log.Println("Refresh worker restarting after panic recovery...")
			}
		}
	}()

	// Setup router
	router := api.SetupRouter(cfg, itemServices, loaders, worker, serverSet)

	// Create HTTP server for graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Cancel the context to stop the refresh worker
	cancel()

	// Give outstanding requests a deadline to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
