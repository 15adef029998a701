package middlewares

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"dispatch_engine/internal/dispatch"
)

// CORSConfig holds configuration for CORS middleware
type CORSConfig struct {
	// AllowOrigins defines a list of origins that may access the resource.
	// Supports wildcards: ["*"] or specific origins: ["https://example.com"]
	// Supports wildcard subdomains: ["*.example.com"]
	// Default: ["*"]
	AllowOrigins []string

	// AllowMethods defines methods allowed when accessing the resource.
	// Default: ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"]
	AllowMethods []string

	// AllowHeaders defines request headers that can be used.
	// If empty, echoes back Access-Control-Request-Headers from preflight
	AllowHeaders []string

	// ExposeHeaders defines response headers clients can access.
	ExposeHeaders []string

	// AllowCredentials indicates if credentials (cookies, auth) are allowed.
	// Cannot be combined with AllowOrigins = ["*"]
	AllowCredentials bool

	// MaxAge indicates how long (seconds) preflight results can be cached.
	MaxAge int

	// Logger for structured logging
	// Default: slog.Default()
	Logger *slog.Logger

	// Skipper defines a function to skip middleware for specific requests.
	Skipper Skipper
}

// DefaultCORSConfig returns a permissive CORS configuration
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowHeaders: []string{},
		Logger:       slog.Default(),
	}
}

// CORS sets cross-origin headers and answers OPTIONS preflights with an
// empty 204 without invoking the rest of the pipeline.
func CORS(config *CORSConfig) Middleware {
	if config == nil {
		config = DefaultCORSConfig()
	}
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
	}
	if len(config.AllowMethods) == 0 {
		config.AllowMethods = DefaultCORSConfig().AllowMethods
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.AllowCredentials && len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
		config.Logger.Warn("CORS: AllowCredentials with wildcard origin (*) is insecure and will not work - specify exact origins")
		config.AllowCredentials = false
	}

	allowMethods := strings.Join(config.AllowMethods, ", ")
	allowHeaders := strings.Join(config.AllowHeaders, ", ")
	exposeHeaders := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			if config.Skipper != nil && config.Skipper(rc) {
				return next(ctx, rc)
			}

			origin := rc.Header.Get("Origin")
			allowedOrigin := getAllowedOrigin(origin, config.AllowOrigins)
			if origin != "" && allowedOrigin == "" {
				if rc.Method == http.MethodOptions {
					config.Logger.Debug("CORS preflight denied", "origin", origin, "path", rc.Path)
					rc.SetResponse(http.StatusForbidden, "", nil)
					return nil
				}
				config.Logger.Debug("CORS request from disallowed origin", "origin", origin, "path", rc.Path)
				return next(ctx, rc)
			}

			h := rc.ResponseHeader
			if allowedOrigin != "" {
				h.Set("Access-Control-Allow-Origin", allowedOrigin)
				h.Add("Vary", "Origin")
				if config.AllowCredentials && allowedOrigin != "*" {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if rc.Method == http.MethodOptions {
				requestHeaders := rc.Header.Get("Access-Control-Request-Headers")
				config.Logger.Debug("CORS preflight",
					"origin", origin,
					"method", rc.Header.Get("Access-Control-Request-Method"),
					"headers", requestHeaders,
				)

				h.Set("Access-Control-Allow-Methods", allowMethods)
				if allowHeaders != "" {
					h.Set("Access-Control-Allow-Headers", allowHeaders)
				} else if requestHeaders != "" {
					h.Set("Access-Control-Allow-Headers", requestHeaders)
				}
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}

				rc.SetResponse(http.StatusNoContent, "", nil)
				return nil
			}

			if exposeHeaders != "" {
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
			}
			return next(ctx, rc)
		}
	}
}

// getAllowedOrigin checks if origin is allowed and returns the value to set:
// "*" for a wildcard, the origin itself when matched, "" otherwise.
// A request without Origin only matches the wildcard.
func getAllowedOrigin(origin string, allowOrigins []string) string {
	for _, allowed := range allowOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin == "" {
			continue
		}
		if allowed == origin {
			return origin
		}
		if strings.HasPrefix(allowed, "*.") {
			domain := allowed[1:]
			if strings.HasSuffix(origin, domain) {
				return origin
			}
		}
	}
	return ""
}
