package middlewares

import (
	"context"
	"log/slog"
	"time"

	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/observability"
)

// LoggerConfig holds configuration options for the request logger
type LoggerConfig struct {
	Logger             *slog.Logger // Structured logger instance
	SkipPaths          []string     // Paths to skip logging (e.g., health checks)
	IncludeUserAgent   bool         // Whether to include User-Agent header
	IncludeReferer     bool         // Whether to include Referer header
	IncludeQueryParams bool         // Whether to include query parameters
	IncludeRequestBody bool         // Whether to log request body content
	MaxBodySize        int          // Maximum body size to log
}

// DefaultLoggerConfig creates a logger configuration with sensible defaults
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Logger:             slog.Default(),
		SkipPaths:          []string{"/health", "/metrics", "/favicon.ico"},
		IncludeUserAgent:   true,
		IncludeReferer:     false,
		IncludeQueryParams: true,
		MaxBodySize:        4096,
	}
}

// Logger records method and path before the request runs, then status,
// content type and elapsed time after it completes.
func Logger(config *LoggerConfig) Middleware {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 4096
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			if shouldSkipPath(rc.Path, config.SkipPaths) {
				return next(ctx, rc)
			}

			startTime := time.Now()
			config.Logger.Debug("request started", requestFields(ctx, rc, config)...)

			err := next(ctx, rc)

			requestDuration := time.Since(startTime)
			fields := append(requestFields(ctx, rc, config),
				"status", rc.Status,
				"content_type", rc.ContentType,
				"latency_ms", requestDuration.Milliseconds(),
				"latency", requestDuration.String(),
				"response_size", len(rc.ResponseBody),
			)
			if err != nil {
				fields = append(fields, "error", err.Error())
			}
			logRequest(config.Logger, rc.Status, fields)
			return err
		}
	}
}

// shouldSkipPath checks if the given path should be skipped from logging
func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skipPath := range skipPaths {
		if path == skipPath {
			return true
		}
	}
	return false
}

func requestFields(ctx context.Context, rc *dispatch.RequestContext, config *LoggerConfig) []any {
	fields := []any{
		"method", rc.Method,
		"path", rc.Path,
	}
	if id := observability.GetRequestID(ctx); id != "" {
		fields = append(fields, "request_id", id)
	}
	if config.IncludeQueryParams && len(rc.Query) > 0 {
		fields = append(fields, "query", rc.Query.Encode())
	}
	if config.IncludeUserAgent {
		if userAgent := rc.Header.Get("User-Agent"); userAgent != "" {
			fields = append(fields, "user_agent", userAgent)
		}
	}
	if config.IncludeReferer {
		if referer := rc.Header.Get("Referer"); referer != "" {
			fields = append(fields, "referer", referer)
		}
	}
	if config.IncludeRequestBody && len(rc.Body) > 0 {
		body := rc.Body
		if len(body) > config.MaxBodySize {
			body = body[:config.MaxBodySize]
		}
		fields = append(fields, "request_body", string(body))
	}
	return fields
}

// logRequest logs the request with appropriate level based on status code
func logRequest(logger *slog.Logger, statusCode int, fields []any) {
	switch {
	case statusCode >= 500:
		logger.Error("server error", fields...)
	case statusCode >= 400:
		logger.Warn("client error", fields...)
	default:
		logger.Info("request handled", fields...)
	}
}
