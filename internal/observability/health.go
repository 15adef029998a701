package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check function
type HealthCheck func(ctx context.Context) (HealthStatus, string, error)

// HealthConfig holds configuration for health checks
type HealthConfig struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Database pool for health checks
	DatabasePool *pgxpool.Pool

	// Custom health checks
	CustomChecks map[string]HealthCheck

	// Timeout for the whole check run
	CheckTimeout time.Duration

	// Include system info in response
	IncludeSystemInfo bool

	// Include detailed info (e.g., database stats)
	IncludeDetails bool
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	System    *SystemInfo            `json:"system,omitempty"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	Goroutines  int    `json:"goroutines"`
	MemoryAlloc uint64 `json:"memory_alloc_mb"`
	MemorySys   uint64 `json:"memory_sys_mb"`
	NumCPU      int    `json:"num_cpu"`
	NumGC       uint32 `json:"num_gc"`
}

var (
	startTime = time.Now()
	version   = "1.0.0"
)

// DefaultHealthConfig returns a default health configuration
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		CustomChecks:      make(map[string]HealthCheck),
		CheckTimeout:      5 * time.Second,
		IncludeSystemInfo: true,
	}
}

// SetVersion sets the application version reported by health checks
func SetVersion(v string) {
	version = v
}

// Register adds a named check
func (c *HealthConfig) Register(name string, check HealthCheck) {
	if c.CustomChecks == nil {
		c.CustomChecks = make(map[string]HealthCheck)
	}
	c.CustomChecks[name] = check
}

// Run executes every configured check concurrently and folds the results
// into one response. The status code is 503 when any check is unhealthy.
func (c *HealthConfig) Run(ctx context.Context) (*HealthResponse, int) {
	timeout := c.CheckTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response := &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Version:   version,
		Checks:    make(map[string]CheckResult),
	}
	if c.IncludeSystemInfo {
		response.System = getSystemInfo()
	}

	checks := make(map[string]HealthCheck, len(c.CustomChecks)+1)
	for name, check := range c.CustomChecks {
		checks[name] = check
	}
	if c.DatabasePool != nil {
		pool, details := c.DatabasePool, c.IncludeDetails
		checks["database"] = func(ctx context.Context) (HealthStatus, string, error) {
			return checkDatabase(ctx, pool, details)
		}
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func(n string, chk HealthCheck) {
			defer wg.Done()
			result := runHealthCheck(ctx, chk)
			mu.Lock()
			response.Checks[n] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	for _, result := range response.Checks {
		if result.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if result.Status == StatusDegraded && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("health check performed",
		"status", response.Status,
		"checks_count", len(response.Checks),
	)
	return response, statusCode
}

// checkDatabase pings the pool
func checkDatabase(ctx context.Context, pool *pgxpool.Pool, includeDetails bool) (HealthStatus, string, error) {
	if err := pool.Ping(ctx); err != nil {
		return StatusUnhealthy, "Database connection failed", err
	}

	message := "Database is healthy"
	if includeDetails {
		stat := pool.Stat()
		message = fmt.Sprintf("Database is healthy (conns: total=%d, idle=%d, acquired=%d)",
			stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns())
	}
	return StatusHealthy, message, nil
}

// runHealthCheck executes a check, giving up when ctx expires
func runHealthCheck(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()

	resultChan := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "Health check panicked",
					Error:   fmt.Sprint(r),
					Latency: time.Since(start).String(),
				}
			}
		}()
		status, message, err := check(ctx)
		result := CheckResult{
			Status:  status,
			Message: message,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			result.Error = err.Error()
			if result.Status == StatusHealthy || result.Status == "" {
				result.Status = StatusUnhealthy
			}
		}
		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		return result
	case <-ctx.Done():
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "Health check timed out",
			Error:   ctx.Err().Error(),
			Latency: time.Since(start).String(),
		}
	}
}

func getSystemInfo() *SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemInfo{
		Goroutines:  runtime.NumGoroutine(),
		MemoryAlloc: m.Alloc / 1024 / 1024,
		MemorySys:   m.Sys / 1024 / 1024,
		NumCPU:      runtime.NumCPU(),
		NumGC:       m.NumGC,
	}
}

// RedisHealthCheck creates a health check for a redis client
func RedisHealthCheck(client redis.UniversalClient) HealthCheck {
	return func(ctx context.Context) (HealthStatus, string, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return StatusUnhealthy, "Redis connection failed", err
		}
		return StatusHealthy, "Redis is healthy", nil
	}
}

// CountCheck reports degraded when count() exceeds limit. Used for
// connection registries that should stay bounded.
func CountCheck(label string, count func() int, limit int) HealthCheck {
	return func(ctx context.Context) (HealthStatus, string, error) {
		n := count()
		msg := fmt.Sprintf("%d %s", n, label)
		if limit > 0 && n > limit {
			return StatusDegraded, msg, nil
		}
		return StatusHealthy, msg, nil
	}
}
