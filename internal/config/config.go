package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every value the service reads from the environment.
// Everything has a default so a bare `go run ./cmd/server` works.
type Config struct {
	Port   string
	DBPath string

	UniversalisBaseURL string
	UniversalisRPS     float64

	DefaultWorld       string
	PriceTTL           time.Duration
	RefreshConcurrency int

	WorkerInterval time.Duration
	WorkerWorlds   []string

	CORSOrigins []string

	PhantasmagoriaCatalogPath string
	GatherableCatalogPath     string
	AethersandCatalogPath     string
}

// Load reads configuration from the environment, after loading a .env file
// if one is present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	return &Config{
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "./marketboard.db"),

		UniversalisBaseURL: getEnv("UNIVERSALIS_BASE_URL", "https://universalis.app/api"),
		UniversalisRPS:     getEnvFloat("UNIVERSALIS_RPS", 8),

		DefaultWorld:       getEnv("DEFAULT_WORLD", "Cerberus"),
		PriceTTL:           getEnvDuration("PRICE_TTL", 24*time.Hour),
		RefreshConcurrency: getEnvInt("REFRESH_CONCURRENCY", 8),

		WorkerInterval: getEnvDuration("REFRESH_WORKER_INTERVAL", time.Hour),
		WorkerWorlds:   getEnvList("REFRESH_WORKER_WORLDS", nil),

		CORSOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),

		PhantasmagoriaCatalogPath: getEnv("PHANTASMAGORIA_CATALOG_PATH", "res/phantasmagoriaMats.json"),
		GatherableCatalogPath:     getEnv("GATHERABLE_CATALOG_PATH", "res/gatherableItems.json"),
		AethersandCatalogPath:     getEnv("AETHERSAND_CATALOG_PATH", "res/aethersands.json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("Invalid value for %s: %q, using default %g", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
