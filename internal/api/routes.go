package api

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ffxiv-tools/marketboard-backend/internal/api/handlers"
	"github.com/ffxiv-tools/marketboard-backend/internal/config"
	"github.com/ffxiv-tools/marketboard-backend/internal/metrics"
	"github.com/ffxiv-tools/marketboard-backend/internal/models"
	"github.com/ffxiv-tools/marketboard-backend/internal/servers"
	"github.com/ffxiv-tools/marketboard-backend/internal/services"
)

func SetupRouter(cfg *config.Config, itemServices map[models.Category]*services.ItemService, loaders map[models.Category]*services.SeedLoader, worker *services.RefreshWorker, serverSet *servers.Set) *gin.Engine {
	router := gin.Default()

	// CORS configuration - allow origins from config
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.AllowCredentials = false
	router.Use(cors.New(corsConfig))

	router.Use(requestMetrics())

	catalogPaths := map[models.Category]string{
		models.CategoryPhantasmagoria: cfg.PhantasmagoriaCatalogPath,
		models.CategoryGatherable:     cfg.GatherableCatalogPath,
		models.CategoryAethersand:     cfg.AethersandCatalogPath,
	}

	// Initialize handlers
	itemHandler := handlers.NewItemHandler(itemServices, loaders, catalogPaths, serverSet)
	serverHandler := handlers.NewServerHandler(serverSet, worker)

	// API routes
	api := router.Group("/api")
	{
		items := api.Group("/items")
		{
			items.GET("/:category/:serverOrDatacenter", itemHandler.GetItems)
			items.POST("/:category/refresh", itemHandler.RefreshItems)
			items.POST("/:category/seed", itemHandler.SeedItems)
		}

		api.GET("/servers", serverHandler.ListServers)

		prices := api.Group("/prices")
		{
			prices.GET("/status", serverHandler.GetPriceStatus)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requestMetrics records request counts and latency per route
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
