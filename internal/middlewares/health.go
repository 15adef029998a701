package middlewares

import (
	"context"
	"strings"

	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/observability"
)

// HealthMiddlewareConfig configures the health interceptor
type HealthMiddlewareConfig struct {
	// Path answered by the interceptor. Default: /health
	Path string

	// Checks to run. Nil answers with a bare liveness payload.
	Checks *observability.HealthConfig
}

// Health answers requests for the configured path with a liveness payload
// without invoking the rest of the pipeline.
func Health(cfg *HealthMiddlewareConfig) Middleware {
	if cfg == nil {
		cfg = &HealthMiddlewareConfig{}
	}
	path := strings.ToLower(strings.TrimRight(cfg.Path, "/"))
	if path == "" {
		path = "/health"
	}
	checks := cfg.Checks
	if checks == nil {
		checks = &observability.HealthConfig{}
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			if !matchesPath(rc.Path, path) {
				return next(ctx, rc)
			}
			response, status := checks.Run(ctx)
			body, err := json.Marshal(response)
			if err != nil {
				return err
			}
			rc.SetResponse(status, "application/json", body)
			return nil
		}
	}
}

// matchesPath compares a raw request path with a configured path,
// ignoring case, query string and trailing slashes
func matchesPath(raw, path string) bool {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimRight(raw, "/")
	if raw == "" {
		raw = "/"
	}
	return strings.EqualFold(raw, path)
}
