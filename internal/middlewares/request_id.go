package middlewares

import (
	"context"

	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/observability"
)

// RequestIDConfig holds configuration for request ID middleware
type RequestIDConfig struct {
	// Header name for request ID
	// Default: X-Request-ID
	Header string

	// Generator creates request IDs
	// Default: observability.NewRequestID
	Generator func() string
}

// RequestID reuses the caller's request ID header or generates one, echoes
// it on the response and stores it in the context and the request items.
func RequestID(config *RequestIDConfig) Middleware {
	if config == nil {
		config = &RequestIDConfig{}
	}
	if config.Header == "" {
		config.Header = observability.RequestIDHeader
	}
	if config.Generator == nil {
		config.Generator = observability.NewRequestID
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			requestID := rc.Header.Get(config.Header)
			if requestID == "" {
				requestID = config.Generator()
			}
			rc.ResponseHeader.Set(config.Header, requestID)
			rc.Items["RequestId"] = requestID

			ctx = observability.WithRequestID(ctx, requestID)
			rc.WithContext(observability.WithRequestID(rc.Context(), requestID))
			return next(ctx, rc)
		}
	}
}
