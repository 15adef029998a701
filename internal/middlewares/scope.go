package middlewares

import (
	"context"
	"log/slog"

	"dispatch_engine/internal/di"
	"dispatch_engine/internal/dispatch"
)

// Scope opens a request-scoped resolver from container, attaches it to the
// request and releases it once the rest of the pipeline returns, including
// when it panics.
func Scope(container *di.Container, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			scope := container.NewScope()
			previous := rc.Resolver
			rc.Resolver = scope
			defer func() {
				rc.Resolver = previous
				if err := scope.Close(); err != nil {
					logger.Warn("request scope release failed", "path", rc.Path, "error", err)
				}
			}()
			return next(ctx, rc)
		}
	}
}
