package middlewares

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dispatch_engine/internal/cache"
	"dispatch_engine/internal/dispatch"
)

// SessionItemKey is the request item holding the session values
const SessionItemKey = "Session"

// SessionValues is the per-visitor state visible to handlers and views
type SessionValues map[string]any

// SessionConfig holds configuration for the session middleware
type SessionConfig struct {
	// Store persists session values (memory, redis or fallback cache)
	Store cache.Cache

	// CookieName carries the session id
	// Default: "sid"
	CookieName string

	// TTL is refreshed on every request
	// Default: 30 minutes
	TTL time.Duration

	// Secure marks the cookie HTTPS-only
	Secure bool

	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger
}

// Session loads the visitor's values into the request items before the
// request runs and writes them back afterwards. A store failure degrades
// to an empty session instead of failing the request.
func Session(cfg *SessionConfig) Middleware {
	if cfg == nil || cfg.Store == nil {
		panic("middlewares: Session requires a store")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "sid"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			id := rc.Cookies[cfg.CookieName]
			values := SessionValues{}

			if id != "" {
				raw, err := cfg.Store.Get(ctx, sessionKey(id))
				switch {
				case err == nil:
					if err := json.Unmarshal(raw, &values); err != nil {
						logger.Warn("discarding unreadable session", "error", err)
						values = SessionValues{}
					}
				case errors.Is(err, cache.ErrCacheNotFound):
					id = ""
				default:
					logger.Warn("session load failed", "error", err)
				}
			}
			if id == "" {
				id = uuid.NewString()
				cookie := &http.Cookie{
					Name:     cfg.CookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				}
				rc.ResponseHeader.Add("Set-Cookie", cookie.String())
			}
			rc.Items[SessionItemKey] = values

			err := next(ctx, rc)

			raw, merr := json.Marshal(values)
			if merr != nil {
				logger.Warn("session not saved", "error", merr)
				return err
			}
			if serr := cfg.Store.Set(ctx, sessionKey(id), raw, cfg.TTL); serr != nil {
				logger.Warn("session save failed", "error", serr)
			}
			return err
		}
	}
}

// SessionFrom returns the session values attached to rc
func SessionFrom(rc *dispatch.RequestContext) SessionValues {
	if v, ok := rc.Items[SessionItemKey].(SessionValues); ok {
		return v
	}
	return nil
}

func sessionKey(id string) string {
	return "session:" + id
}
