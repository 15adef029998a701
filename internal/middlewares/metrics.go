package middlewares

import (
	"context"

	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/observability"
)

// Metrics records request count, latency and response size. Requests are
// labelled by matched route template so unmatched paths cannot explode the
// label space.
func Metrics(m *observability.Metrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			done := m.Begin()
			err := next(ctx, rc)

			route := "unmatched"
			if rc.Route != nil {
				route = rc.Route.Path
			}
			done(rc.Method, route, rc.Status, len(rc.ResponseBody))
			return err
		}
	}
}
