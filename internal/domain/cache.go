package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU + Redis.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type" env:"CACHE_TYPE" env-default:"memory"`

	// Local LRU cache settings
	LocalMaxSize int           `yaml:"local_max_size" env:"CACHE_LOCAL_MAX_SIZE" env-default:"1000"`
	LocalTTL     time.Duration `yaml:"local_ttl" env:"CACHE_LOCAL_TTL" env-default:"30s"`

	// Redis settings
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`

	// EnableTwoPhase checks local first, then Redis
	EnableTwoPhase bool `yaml:"enable_two_phase" env:"CACHE_TWO_PHASE"`

	// DashboardTTL is how long dashboard metrics are served from cache.
	DashboardTTL time.Duration `yaml:"dashboard_ttl" env:"CACHE_DASHBOARD_TTL" env-default:"30s"`
}
