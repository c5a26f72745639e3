// Package config centralises configuration parsing for the health store.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures runtime configuration values for the store daemon.
type Config struct {
	HTTPAddress     string
	DatabaseURL     string
	WorkerPoolSize  int           // Concurrent store operations allowed.
	DefaultPageSize int           // Page size applied when a request omits one.
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Load reads environment variables into Config, applying sensible defaults
// for local dev.
func Load() Config {
	return Config{
		HTTPAddress:     getEnv("HTTP_ADDRESS", ":8080"),
		DatabaseURL:     getEnv("DATABASE_URL", "sqlite:file:healthstore.db?_pragma=busy_timeout(5000)"),
		WorkerPoolSize:  getIntEnv("WORKER_POOL_SIZE", 4),
		DefaultPageSize: getIntEnv("DEFAULT_PAGE_SIZE", 1000),
		ReadTimeout:     getDurationEnv("HTTP_READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDurationEnv("HTTP_WRITE_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
