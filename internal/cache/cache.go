package cache

import (
	"context"
	"errors"
	"time"
)

// Cache is the key/value store behind request sessions
type Cache interface {
	// Get retrieves a value, returning ErrCacheNotFound on a miss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with optional TTL (0 = DefaultTTL)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value
	Delete(ctx context.Context, key string) error

	// Ping checks if the cache is accessible
	Ping(ctx context.Context) error

	// Close releases the cache's resources
	Close() error
}

// Config holds common cache configuration
type Config struct {
	// Default TTL for cache entries (0 = no expiration)
	DefaultTTL time.Duration

	// Key prefix for all cache keys
	Prefix string

	// Enable/disable cache (useful for testing)
	Enabled bool
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL: 30 * time.Minute,
		Prefix:     "dispatch:",
		Enabled:    true,
	}
}

// CacheError represents a cache operation error
type CacheError struct {
	Op  string // Operation that failed
	Key string // Cache key involved
	Err error  // Underlying error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return "cache " + e.Op + " " + e.Key + " failed: " + e.Err.Error()
	}
	return "cache " + e.Op + " failed: " + e.Err.Error()
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

var (
	// ErrCacheNotFound is returned by Get on a miss
	ErrCacheNotFound = errors.New("key not found")

	// ErrCacheDisabled is returned by every operation on a disabled cache
	ErrCacheDisabled = errors.New("cache disabled")
)

func prefixKey(config *Config, key string) string {
	return config.Prefix + key
}
