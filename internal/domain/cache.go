package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetScored returns the scored rows cached for a file digest.
	// Returns nil, nil on a miss.
	GetScored(ctx context.Context, tenantID string, digest string) (*ScoredFile, error)

	// SetScored caches the scored rows of a file by its digest.
	SetScored(ctx context.Context, tenantID string, digest string, data *ScoredFile, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for upload rate limiting.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ScoredFile is what the cache keeps for an already scored upload.
type ScoredFile struct {
	Transactions []ProcessedTransaction `json:"transactions"`
	Warning      *APIError              `json:"warning,omitempty"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize  int           `yaml:"localMaxSize"`
	LocalMaxBytes int64         `yaml:"localMaxBytes"`
	LocalTTL      time.Duration `yaml:"localTTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// Two-phase settings
	EnableTwoPhase bool `yaml:"enableTwoPhase"` // If true, check local first, then Redis

	// ScoredTTL is how long scored uploads stay cached. Zero disables the
	// scored-result cache.
	ScoredTTL time.Duration `yaml:"scoredTTL"`
}
