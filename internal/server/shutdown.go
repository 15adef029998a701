package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ShutdownConfig holds configuration for graceful shutdown
type ShutdownConfig struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Timeout for graceful shutdown
	Timeout time.Duration

	// Signals to listen for (default: SIGINT, SIGTERM)
	Signals []os.Signal

	// OnShutdownStart is called when shutdown begins
	OnShutdownStart func()

	// OnShutdownComplete is called when shutdown completes
	OnShutdownComplete func()
}

// DefaultShutdownConfig returns a default shutdown configuration
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Logger:  nil,
		Timeout: 30 * time.Second,
		Signals: []os.Signal{
			syscall.SIGINT,  // Ctrl+C
			syscall.SIGTERM, // Kubernetes/Docker stop
			syscall.SIGQUIT, // Ctrl+\
		},
		OnShutdownStart:    nil,
		OnShutdownComplete: nil,
	}
}

// Resource represents a resource that needs cleanup during shutdown
type Resource interface {
	Name() string
	Close(ctx context.Context) error
}

// ShutdownManager closes registered resources one at a time, newest first.
// Later registrations depend on earlier ones: the HTTP server is
// registered after the hubs it feeds, which come after the pools they use.
type ShutdownManager struct {
	config    *ShutdownConfig
	logger    *slog.Logger
	resources []Resource
	mu        sync.RWMutex
	once      sync.Once
	err       error
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(config *ShutdownConfig) *ShutdownManager {
	if config == nil {
		config = DefaultShutdownConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ShutdownManager{
		config:    config,
		logger:    logger,
		resources: make([]Resource, 0),
	}
}

// Register adds a resource to be cleaned up during shutdown
func (sm *ShutdownManager) Register(resource Resource) {
	if resource == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.resources = append(sm.resources, resource)
	sm.logger.Debug("resource registered for shutdown", "resource", resource.Name())
}

// Wait blocks until a shutdown signal arrives, ctx ends or fatal reports an
// error, then shuts down. A fatal error is returned alongside any shutdown
// failure.
func (sm *ShutdownManager) Wait(ctx context.Context, fatal <-chan error) error {
	sigChan := make(chan os.Signal, 1)
	if len(sm.config.Signals) > 0 {
		signal.Notify(sigChan, sm.config.Signals...)
		defer signal.Stop(sigChan)
	}

	var cause error
	select {
	case sig := <-sigChan:
		sm.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		sm.logger.Info("shutdown requested", "reason", ctx.Err())
	case err, ok := <-fatal:
		if ok && err != nil {
			sm.logger.Error("server failed", "error", err)
			cause = err
		}
	}

	if sm.config.OnShutdownStart != nil {
		sm.config.OnShutdownStart()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sm.config.Timeout)
	defer cancel()

	err := sm.Shutdown(shutdownCtx)

	if sm.config.OnShutdownComplete != nil {
		sm.config.OnShutdownComplete()
	}

	return errors.Join(cause, err)
}

// Shutdown closes every registered resource in reverse registration order.
// It runs once; later calls return the first result.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.once.Do(func() {
		sm.err = sm.shutdown(ctx)
	})
	return sm.err
}

func (sm *ShutdownManager) shutdown(ctx context.Context) error {
	sm.mu.RLock()
	resources := make([]Resource, len(sm.resources))
	copy(resources, sm.resources)
	sm.mu.RUnlock()

	sm.logger.Info("initiating graceful shutdown",
		"timeout", sm.config.Timeout.String(),
		"resources", len(resources),
	)

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		if ctx.Err() != nil {
			sm.logger.Warn("shutdown timeout exceeded, skipping resource", "resource", r.Name())
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), ctx.Err()))
			continue
		}

		sm.logger.Info("closing resource", "resource", r.Name())
		start := time.Now()
		if err := r.Close(ctx); err != nil {
			sm.logger.Error("failed to close resource",
				"resource", r.Name(),
				"error", err,
				"duration", time.Since(start).String(),
			)
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		sm.logger.Info("resource closed successfully",
			"resource", r.Name(),
			"duration", time.Since(start).String(),
		)
	}

	if len(errs) == 0 {
		sm.logger.Info("all resources closed successfully")
	}
	return errors.Join(errs...)
}

// HTTPServerResource wraps an HTTP server for graceful shutdown
type HTTPServerResource struct {
	server *http.Server
	name   string
}

// NewHTTPServerResource creates a new HTTP server resource
func NewHTTPServerResource(name string, server *http.Server) *HTTPServerResource {
	return &HTTPServerResource{
		server: server,
		name:   name,
	}
}

func (h *HTTPServerResource) Name() string {
	return h.name
}

func (h *HTTPServerResource) Close(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// DatabaseResource wraps a database pool for graceful shutdown
type DatabaseResource struct {
	pool *pgxpool.Pool
	name string
}

// NewDatabaseResource creates a new database resource
func NewDatabaseResource(name string, pool *pgxpool.Pool) *DatabaseResource {
	return &DatabaseResource{
		pool: pool,
		name: name,
	}
}

func (d *DatabaseResource) Name() string {
	return d.name
}

// pgxpool.Close() doesn't accept context, but we can wait for it
func (d *DatabaseResource) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.pool.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RedisResource wraps a Redis client for graceful shutdown
type RedisResource struct {
	client redis.UniversalClient
	name   string
}

// NewRedisResource creates a new Redis resource
func NewRedisResource(name string, client redis.UniversalClient) *RedisResource {
	return &RedisResource{
		client: client,
		name:   name,
	}
}

func (r *RedisResource) Name() string {
	return r.name
}

func (r *RedisResource) Close(ctx context.Context) error {
	return r.client.Close()
}

// CustomResource wraps a custom cleanup function
type CustomResource struct {
	name      string
	closeFunc func(ctx context.Context) error
}

// NewCustomResource creates a new custom resource
func NewCustomResource(name string, closeFunc func(ctx context.Context) error) *CustomResource {
	return &CustomResource{
		name:      name,
		closeFunc: closeFunc,
	}
}

func (c *CustomResource) Name() string {
	return c.name
}

func (c *CustomResource) Close(ctx context.Context) error {
	return c.closeFunc(ctx)
}
