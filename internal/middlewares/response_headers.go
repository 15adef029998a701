package middlewares

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"dispatch_engine/internal/dispatch"
)

// ResponseHeadersConfig holds the caching and content-security headers
// applied after the request completes
type ResponseHeadersConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// CacheControl maps a content-type prefix to a Cache-Control value.
	// The longest matching prefix wins.
	CacheControl map[string]string

	// ContentSecurityPolicy is set on HTML responses
	// Default: "default-src 'self'"
	ContentSecurityPolicy string

	// XFrameOptions is set on HTML responses
	// Default: "DENY"
	XFrameOptions string

	// ReferrerPolicy is set on HTML responses
	// Default: "strict-origin-when-cross-origin"
	ReferrerPolicy string

	// ContentTypeNosniff is set on every response with a body
	// Default: "nosniff"
	ContentTypeNosniff string
}

// DefaultResponseHeadersConfig returns the default header policy
func DefaultResponseHeadersConfig() *ResponseHeadersConfig {
	return &ResponseHeadersConfig{
		CacheControl: map[string]string{
			"text/html":              "no-cache, no-store, must-revalidate",
			"application/json":       "no-store",
			"text/css":               "public, max-age=31536000, immutable",
			"application/javascript": "public, max-age=31536000, immutable",
			"image/":                 "public, max-age=86400",
		},
		ContentSecurityPolicy: "default-src 'self'",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentTypeNosniff:    "nosniff",
	}
}

// ResponseHeaders adds caching and content-security headers once the rest
// of the pipeline has produced a response. Headers already set downstream
// are left untouched.
func ResponseHeaders(config *ResponseHeadersConfig) Middleware {
	if config == nil {
		config = DefaultResponseHeadersConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("response headers middleware initialized",
		"cache_rules", len(config.CacheControl),
		"x_frame_options", config.XFrameOptions,
	)

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			err := next(ctx, rc)

			ct := strings.ToLower(rc.ContentType)
			if ct == "" {
				return err
			}
			h := rc.ResponseHeader

			if value := cacheControlFor(ct, config.CacheControl); value != "" && h.Get("Cache-Control") == "" {
				h.Set("Cache-Control", value)
			}
			if config.ContentTypeNosniff != "" {
				h.Set("X-Content-Type-Options", config.ContentTypeNosniff)
			}
			if strings.HasPrefix(ct, "text/html") {
				setIfMissing(h, "Content-Security-Policy", config.ContentSecurityPolicy)
				setIfMissing(h, "X-Frame-Options", config.XFrameOptions)
				setIfMissing(h, "Referrer-Policy", config.ReferrerPolicy)
			}
			return err
		}
	}
}

func cacheControlFor(contentType string, rules map[string]string) string {
	best, value := -1, ""
	for prefix, v := range rules {
		if strings.HasPrefix(contentType, prefix) && len(prefix) > best {
			best, value = len(prefix), v
		}
	}
	return value
}

func setIfMissing(h http.Header, key, value string) {
	if value != "" && h.Get(key) == "" {
		h.Set(key, value)
	}
}
