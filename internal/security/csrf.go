package security

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/middlewares"
)

// CSRFTokenItem is the request item (and view data key) holding the
// current token
const CSRFTokenItem = "CSRFToken"

// csrfSessionKey stores the token in the session values
const csrfSessionKey = "csrf_token"

// CSRFConfig holds CSRF protection configuration. The middleware must run
// after middlewares.Session.
type CSRFConfig struct {
	// Token length in bytes (default: 32)
	TokenLength int

	// Header name for CSRF token
	HeaderName string

	// Form field name for CSRF token
	FieldName string

	// Skip CSRF check for these methods
	SafeMethods []string

	// Logger for structured logging
	Logger *slog.Logger

	// Skipper defines a function to skip CSRF protection for specific requests
	// Return true to skip CSRF validation for the request
	Skipper middlewares.Skipper
}

// DefaultCSRFConfig returns the default CSRF configuration
func DefaultCSRFConfig() *CSRFConfig {
	return &CSRFConfig{
		TokenLength: 32,
		HeaderName:  "X-CSRF-Token",
		FieldName:   "csrf_token",
		SafeMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	}
}

// SkipJSON skips requests with a JSON body; browsers cannot send those
// cross-site without a CORS preflight
func SkipJSON(rc *dispatch.RequestContext) bool {
	return strings.HasPrefix(rc.Header.Get("Content-Type"), "application/json")
}

// CSRF issues a per-session token on safe requests and rejects unsafe
// requests whose header or form field does not carry it
func CSRF(cfg *CSRFConfig) middlewares.Middleware {
	if cfg == nil {
		cfg = DefaultCSRFConfig()
	}
	if cfg.TokenLength <= 0 {
		cfg.TokenLength = 32
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-CSRF-Token"
	}
	if cfg.FieldName == "" {
		cfg.FieldName = "csrf_token"
	}
	if len(cfg.SafeMethods) == 0 {
		cfg.SafeMethods = DefaultCSRFConfig().SafeMethods
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	safe := make(map[string]bool, len(cfg.SafeMethods))
	for _, m := range cfg.SafeMethods {
		safe[strings.ToUpper(m)] = true
	}

	return func(next middlewares.Handler) middlewares.Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			if cfg.Skipper != nil && cfg.Skipper(rc) {
				return next(ctx, rc)
			}

			session := middlewares.SessionFrom(rc)
			if safe[strings.ToUpper(rc.Method)] {
				if session == nil {
					return next(ctx, rc)
				}
				token, _ := session[csrfSessionKey].(string)
				if token == "" {
					var err error
					if token, err = GenerateToken(cfg.TokenLength); err != nil {
						return err
					}
					session[csrfSessionKey] = token
				}
				rc.Items[CSRFTokenItem] = token
				return next(ctx, rc)
			}

			if err := validate(rc, session, cfg); err != nil {
				logger.Warn("CSRF validation failed",
					"error", err,
					"method", rc.Method,
					"path", rc.Path,
				)
				return rc.WriteJSON(http.StatusForbidden, config.ErrorResponse{
					Error:   http.StatusText(http.StatusForbidden),
					Message: "CSRF token validation failed",
					Code:    "CSRF_INVALID",
				})
			}
			return next(ctx, rc)
		}
	}
}

func validate(rc *dispatch.RequestContext, session middlewares.SessionValues, cfg *CSRFConfig) error {
	if session == nil {
		return ErrNoSession
	}
	stored, _ := session[csrfSessionKey].(string)
	if stored == "" {
		return ErrInvalidToken
	}

	// header first (AJAX), then form field
	sent := rc.Header.Get(cfg.HeaderName)
	if sent == "" {
		sent = rc.Form.Get(cfg.FieldName)
	}
	if sent == "" || !SecureCompare(sent, stored) {
		return ErrInvalidToken
	}
	return nil
}

// CSRFToken returns the token issued for this request, if any
func CSRFToken(rc *dispatch.RequestContext) string {
	token, _ := rc.Items[CSRFTokenItem].(string)
	return token
}
