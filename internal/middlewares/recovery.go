package middlewares

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/observability"
)

// RecoveryConfig holds configuration for the exception boundary
type RecoveryConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// DisableStackTrace disables stack capture for recovered panics
	DisableStackTrace bool

	// Development includes the error message and stack in the response body
	Development bool
}

// DefaultRecoveryConfig returns a default recovery configuration
func DefaultRecoveryConfig() *RecoveryConfig {
	return &RecoveryConfig{}
}

// Recovery is the outermost safety net. Any error returned by the rest of
// the pipeline and any panic raised inside it become a structured 500 JSON
// response. Recovery itself never returns an error.
func Recovery(cfg *RecoveryConfig) Middleware {
	if cfg == nil {
		cfg = DefaultRecoveryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("recovery middleware initialized",
		"development", cfg.Development,
		"disable_stack_trace", cfg.DisableStackTrace,
	)

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack []byte
					if !cfg.DisableStackTrace {
						stack = debug.Stack()
					}
					logAttrs := []any{
						"method", rc.Method,
						"path", rc.Path,
						"error", fmt.Sprintf("%v", r),
					}
					if requestID := requestIDOf(ctx, rc); requestID != "" {
						logAttrs = append(logAttrs, "request_id", requestID)
					}
					if stack != nil {
						logAttrs = append(logAttrs, "stack", string(stack))
					}
					logger.Error("panic recovered", logAttrs...)

					writeFault(ctx, rc, cfg, fmt.Sprintf("Panic: %v", r), string(stack))
					err = nil
				}
			}()

			if err := next(ctx, rc); err != nil {
				logger.Error("request failed",
					"method", rc.Method,
					"path", rc.Path,
					"error", err.Error(),
				)
				writeFault(ctx, rc, cfg, err.Error(), fmt.Sprintf("%+v", err))
			}
			return nil
		}
	}
}

// requestIDOf finds the request id when Recovery runs outside RequestID:
// the inner middleware only updates the request's own context
func requestIDOf(ctx context.Context, rc *dispatch.RequestContext) string {
	if id := observability.GetRequestID(ctx); id != "" {
		return id
	}
	return observability.GetRequestID(rc.Context())
}

func writeFault(ctx context.Context, rc *dispatch.RequestContext, cfg *RecoveryConfig, message, stack string) {
	resp := config.ErrorResponse{
		Error:   http.StatusText(http.StatusInternalServerError),
		Message: "An unexpected error occurred",
		Code:    requestIDOf(ctx, rc),
	}
	if cfg.Development {
		resp.Message = message
		if !cfg.DisableStackTrace {
			resp.Details = stack
		}
	}
	body, _ := json.Marshal(resp)
	rc.SetResponse(http.StatusInternalServerError, "application/json", body)
}
