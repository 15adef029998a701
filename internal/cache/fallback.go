package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// FallbackCache reads and writes a primary cache and mirrors every write
// into an in-memory fallback that serves reads while the primary fails.
type FallbackCache struct {
	primary  Cache
	fallback *MemoryCache
	logger   *slog.Logger
}

// NewFallbackCache creates a fallback cache. A nil primary degrades to the
// memory cache alone.
func NewFallbackCache(primary Cache, memory *Config, logger *slog.Logger) *FallbackCache {
	if logger == nil {
		logger = slog.Default()
	}
	if primary == nil {
		logger.Warn("no primary cache configured, using memory cache only")
	}
	return &FallbackCache{
		primary:  primary,
		fallback: NewMemoryCache(memory),
		logger:   logger,
	}
}

// Get retrieves a value from cache (primary first, then fallback)
func (fc *FallbackCache) Get(ctx context.Context, key string) ([]byte, error) {
	if fc.primary != nil {
		value, err := fc.primary.Get(ctx, key)
		if err == nil || errors.Is(err, ErrCacheNotFound) {
			return value, err
		}
		fc.logger.Warn("primary cache get failed, trying fallback", "error", err, "key", key)
	}
	return fc.fallback.Get(ctx, key)
}

// Set stores a value in both caches
func (fc *FallbackCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var primaryErr error
	if fc.primary != nil {
		if primaryErr = fc.primary.Set(ctx, key, value, ttl); primaryErr != nil {
			fc.logger.Warn("primary cache set failed", "error", primaryErr, "key", key)
		}
	}
	if err := fc.fallback.Set(ctx, key, value, ttl); err != nil {
		fc.logger.Error("fallback cache set failed", "error", err, "key", key)
		return err
	}
	return primaryErr
}

// Delete removes a value from both caches
func (fc *FallbackCache) Delete(ctx context.Context, key string) error {
	if fc.primary != nil {
		if err := fc.primary.Delete(ctx, key); err != nil {
			fc.logger.Warn("primary cache delete failed", "error", err, "key", key)
		}
	}
	return fc.fallback.Delete(ctx, key)
}

// Ping reports the primary's health; the fallback is always reachable
func (fc *FallbackCache) Ping(ctx context.Context) error {
	if fc.primary != nil {
		return fc.primary.Ping(ctx)
	}
	return fc.fallback.Ping(ctx)
}

// Close closes both caches
func (fc *FallbackCache) Close() error {
	var err error
	if fc.primary != nil {
		err = fc.primary.Close()
	}
	return errors.Join(err, fc.fallback.Close())
}
