package middlewares

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/dispatch"
)

// TimeoutConfig holds configuration for timeout middleware
type TimeoutConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Timeout duration for requests
	// Default: 30 seconds
	Timeout time.Duration

	// Message to return when timeout occurs
	// Default: "The request took too long to process"
	Message string

	// Status code to return when timeout occurs
	// Default: 408 (Request Timeout)
	StatusCode int

	// Skipper defines a function to skip middleware
	Skipper Skipper
}

// DefaultTimeoutConfig returns a default timeout configuration
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Timeout:    30 * time.Second,
		Message:    "The request took too long to process",
		StatusCode: http.StatusRequestTimeout,
	}
}

// Timeout bounds the request's context. Awaited handler results observe
// the deadline; when it expires the response is replaced by a timeout body.
func Timeout(cfg *TimeoutConfig) Middleware {
	if cfg == nil {
		cfg = DefaultTimeoutConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StatusCode <= 0 {
		cfg.StatusCode = http.StatusRequestTimeout
	}
	if cfg.Message == "" {
		cfg.Message = "The request took too long to process"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("timeout middleware initialized", "timeout", cfg.Timeout.String())

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			if cfg.Skipper != nil && cfg.Skipper(rc) {
				return next(ctx, rc)
			}

			ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()

			parent := rc.Context()
			rc.WithContext(ctx)
			defer rc.WithContext(parent)

			err := next(ctx, rc)
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}

			logger.Warn("request timeout",
				"method", rc.Method,
				"path", rc.Path,
				"timeout", cfg.Timeout.String(),
			)
			body, _ := json.Marshal(config.ErrorResponse{
				Error:   http.StatusText(cfg.StatusCode),
				Message: cfg.Message,
			})
			rc.SetResponse(cfg.StatusCode, "application/json", body)
			return nil
		}
	}
}
