package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends understood by CACHE_BACKEND.
const (
	CacheBackendBadger = "badger"
	CacheBackendMemory = "memory"
)

// Config holds the configuration for the application.
type Config struct {
	DatabasePath string
	Port         string

	CacheBackend string
	CachePath    string
	CacheTTL     time.Duration

	// CategoriesFile optionally overrides the embedded default store categories.
	CategoriesFile string

	// Optional integrations
	AuthJWTSecret    string
	TelegramBotToken string
}

// NewFromEnv creates a new Config object from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func NewFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		DatabasePath:     getEnv("DATABASE_PATH", "data/diet.db"),
		Port:             getEnv("PORT", "8080"),
		CacheBackend:     getEnv("CACHE_BACKEND", CacheBackendBadger),
		CachePath:        getEnv("CACHE_PATH", "data/cache"),
		CategoriesFile:   os.Getenv("CATEGORIES_FILE"),
		AuthJWTSecret:    os.Getenv("AUTH_JWT_SECRET"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if cfg.CacheBackend != CacheBackendBadger && cfg.CacheBackend != CacheBackendMemory {
		return nil, fmt.Errorf("CACHE_BACKEND environment variable invalid: %q", cfg.CacheBackend)
	}

	ttl, err := time.ParseDuration(getEnv("CACHE_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("CACHE_TTL environment variable invalid: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("CACHE_TTL environment variable invalid: must be positive")
	}
	cfg.CacheTTL = ttl

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
