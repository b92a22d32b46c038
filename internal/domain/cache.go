package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetProfile retrieves the cached behavioral profile of an account.
	// Returns nil, nil if the account has no profile.
	GetProfile(ctx context.Context, accountID string) (*BehaviorProfile, error)

	// SetProfile stores the behavioral profile of an account.
	SetProfile(ctx context.Context, accountID string, profile *BehaviorProfile, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// The counter resets once window has elapsed since its first increment.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Counter reads a counter without incrementing it.
	// Missing or expired counters read as 0.
	Counter(ctx context.Context, key string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
