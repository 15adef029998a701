package middlewares

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch_engine/internal/cache"
	"dispatch_engine/internal/config"
	"dispatch_engine/internal/di"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/observability"
)

func newRC(method, path string) *dispatch.RequestContext {
	return dispatch.NewRequestContext(context.Background(), method, path)
}

func okTerminal(ctx context.Context, rc *dispatch.RequestContext) error {
	rc.SetResponse(http.StatusOK, "text/plain", []byte("ok"))
	return nil
}

func tracing(name string, trace *[]string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			*trace = append(*trace, name+">")
			err := next(ctx, rc)
			*trace = append(*trace, "<"+name)
			return err
		}
	}
}

func TestPipeline_FirstRegisteredIsOutermost(t *testing.T) {
	var trace []string
	p := NewPipeline(tracing("a", &trace), tracing("b", &trace)).Use(tracing("c", &trace))

	h := p.Build(func(ctx context.Context, rc *dispatch.RequestContext) error {
		trace = append(trace, "terminal")
		return nil
	})
	require.NoError(t, h(context.Background(), newRC("GET", "/")))

	assert.Equal(t, []string{"a>", "b>", "c>", "terminal", "<c", "<b", "<a"}, trace)
	assert.Equal(t, 3, p.Len())
}

func TestPipeline_EmptyIsTerminal(t *testing.T) {
	rc := newRC("GET", "/")
	h := NewPipeline().Build(okTerminal)
	require.NoError(t, h(context.Background(), rc))
	assert.Equal(t, "ok", string(rc.ResponseBody))
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	called := false
	h := CORS(nil)(func(ctx context.Context, rc *dispatch.RequestContext) error {
		called = true
		return nil
	})

	rc := newRC(http.MethodOptions, "/api/items")
	rc.Header.Set("Origin", "https://example.com")
	rc.Header.Set("Access-Control-Request-Headers", "X-Custom")
	require.NoError(t, h(context.Background(), rc))

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rc.Status)
	assert.Empty(t, rc.ResponseBody)
	assert.Equal(t, "*", rc.ResponseHeader.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rc.ResponseHeader.Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "X-Custom", rc.ResponseHeader.Get("Access-Control-Allow-Headers"))
}

func TestCORS_ActualRequestPassesThrough(t *testing.T) {
	h := CORS(&CORSConfig{
		AllowOrigins:  []string{"*.example.com"},
		ExposeHeaders: []string{"X-Request-ID"},
	})(okTerminal)

	rc := newRC(http.MethodGet, "/")
	rc.Header.Set("Origin", "https://app.example.com")
	require.NoError(t, h(context.Background(), rc))
	assert.Equal(t, "ok", string(rc.ResponseBody))
	assert.Equal(t, "https://app.example.com", rc.ResponseHeader.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Request-ID", rc.ResponseHeader.Get("Access-Control-Expose-Headers"))

	denied := newRC(http.MethodOptions, "/")
	denied.Header.Set("Origin", "https://evil.test")
	require.NoError(t, h(context.Background(), denied))
	assert.Equal(t, http.StatusForbidden, denied.Status)
}

func TestRecovery_ConvertsPanicsAndErrors(t *testing.T) {
	h := NewPipeline(Recovery(&RecoveryConfig{Development: true})).Build(
		func(ctx context.Context, rc *dispatch.RequestContext) error {
			if rc.Path == "/panic" {
				panic("interceptor exploded")
			}
			return errors.New("downstream failed")
		})

	for path, want := range map[string]string{
		"/panic": "Panic: interceptor exploded",
		"/error": "downstream failed",
	} {
		rc := newRC("GET", path)
		require.NoError(t, h(context.Background(), rc), path)
		assert.Equal(t, http.StatusInternalServerError, rc.Status, path)
		assert.Equal(t, "application/json", rc.ContentType, path)

		var body config.ErrorResponse
		require.NoError(t, json.Unmarshal(rc.ResponseBody, &body), path)
		assert.Equal(t, "Internal Server Error", body.Error)
		assert.Equal(t, want, body.Message)
		assert.NotEmpty(t, body.Details)
	}
}

func TestRecovery_OutermostStillReportsRequestID(t *testing.T) {
	h := NewPipeline(
		Recovery(nil),
		RequestID(&RequestIDConfig{Generator: func() string { return "req-42" }}),
	).Build(func(ctx context.Context, rc *dispatch.RequestContext) error {
		panic("late failure")
	})

	rc := newRC("GET", "/")
	require.NoError(t, h(context.Background(), rc))
	assert.Equal(t, http.StatusInternalServerError, rc.Status)

	var body config.ErrorResponse
	require.NoError(t, json.Unmarshal(rc.ResponseBody, &body))
	assert.Equal(t, "req-42", body.Code)
}

func TestRecovery_ProductionHidesDetails(t *testing.T) {
	h := Recovery(nil)(func(ctx context.Context, rc *dispatch.RequestContext) error {
		return errors.New("secret connection string")
	})
	rc := newRC("GET", "/")
	require.NoError(t, h(context.Background(), rc))
	assert.NotContains(t, string(rc.ResponseBody), "secret")
}

func TestHealth_AnswersConfiguredPath(t *testing.T) {
	called := false
	checks := &observability.HealthConfig{}
	checks.Register("registry", observability.CountCheck("connections", func() int { return 2 }, 10))

	h := Health(&HealthMiddlewareConfig{Path: "/healthz", Checks: checks})(func(ctx context.Context, rc *dispatch.RequestContext) error {
		called = true
		return nil
	})

	rc := newRC("GET", "/HealthZ/?verbose=1")
	require.NoError(t, h(context.Background(), rc))
	assert.False(t, called)
	assert.Equal(t, http.StatusOK, rc.Status)

	var body observability.HealthResponse
	require.NoError(t, json.Unmarshal(rc.ResponseBody, &body))
	assert.Equal(t, observability.StatusHealthy, body.Status)
	assert.Equal(t, "2 connections", body.Checks["registry"].Message)

	other := newRC("GET", "/home")
	require.NoError(t, h(context.Background(), other))
	assert.True(t, called)
}

func TestHealth_UnhealthyCheckIs503(t *testing.T) {
	checks := &observability.HealthConfig{}
	checks.Register("redis", func(ctx context.Context) (observability.HealthStatus, string, error) {
		return observability.StatusHealthy, "", errors.New("connection refused")
	})
	h := Health(&HealthMiddlewareConfig{Checks: checks})(okTerminal)

	rc := newRC("GET", "/health")
	require.NoError(t, h(context.Background(), rc))
	assert.Equal(t, http.StatusServiceUnavailable, rc.Status)
}

type trackedService struct{ closed bool }

func (s *trackedService) Close() error {
	s.closed = true
	return nil
}

func TestScope_ReleasedOnEveryExit(t *testing.T) {
	container := di.NewContainer(nil)
	var created []*trackedService
	container.Register("svc", di.Scoped, func(di.Resolver) (any, error) {
		s := &trackedService{}
		created = append(created, s)
		return s, nil
	})

	resolveAnd := func(fail bool) Handler {
		return func(ctx context.Context, rc *dispatch.RequestContext) error {
			_, err := rc.Resolver.Resolve("svc")
			require.NoError(t, err)
			if fail {
				panic("handler blew up")
			}
			return nil
		}
	}

	rc := newRC("GET", "/")
	require.NoError(t, Scope(container, nil)(resolveAnd(false))(context.Background(), rc))
	assert.Nil(t, rc.Resolver, "scope detached after the request")

	assert.Panics(t, func() {
		_ = Scope(container, nil)(resolveAnd(true))(context.Background(), newRC("GET", "/"))
	})

	require.Len(t, created, 2)
	assert.True(t, created[0].closed)
	assert.True(t, created[1].closed, "scope released even when the request panics")
}

func TestResponseHeaders_DependOnContentType(t *testing.T) {
	mw := ResponseHeaders(nil)

	html := newRC("GET", "/")
	require.NoError(t, mw(func(ctx context.Context, rc *dispatch.RequestContext) error {
		rc.SetResponse(200, "text/html; charset=utf-8", []byte("<p/>"))
		return nil
	})(context.Background(), html))
	assert.Equal(t, "no-cache, no-store, must-revalidate", html.ResponseHeader.Get("Cache-Control"))
	assert.Equal(t, "default-src 'self'", html.ResponseHeader.Get("Content-Security-Policy"))
	assert.Equal(t, "DENY", html.ResponseHeader.Get("X-Frame-Options"))

	data := newRC("GET", "/api")
	require.NoError(t, mw(func(ctx context.Context, rc *dispatch.RequestContext) error {
		rc.ResponseHeader.Set("Cache-Control", "max-age=5")
		rc.SetResponse(200, "application/json", []byte("{}"))
		return nil
	})(context.Background(), data))
	assert.Equal(t, "max-age=5", data.ResponseHeader.Get("Cache-Control"))
	assert.Empty(t, data.ResponseHeader.Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", data.ResponseHeader.Get("X-Content-Type-Options"))

	empty := newRC("POST", "/api/ping")
	require.NoError(t, mw(func(ctx context.Context, rc *dispatch.RequestContext) error {
		rc.SetResponse(204, "", nil)
		return nil
	})(context.Background(), empty))
	assert.Empty(t, empty.ResponseHeader)
}

func TestRequestID_GeneratedOrReused(t *testing.T) {
	var seen string
	h := RequestID(nil)(func(ctx context.Context, rc *dispatch.RequestContext) error {
		seen = observability.GetRequestID(ctx)
		return nil
	})

	rc := newRC("GET", "/")
	require.NoError(t, h(context.Background(), rc))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rc.ResponseHeader.Get("X-Request-ID"))
	assert.Equal(t, seen, rc.Items["RequestId"])

	rc = newRC("GET", "/")
	rc.Header.Set("X-Request-ID", "abc-123")
	require.NoError(t, h(context.Background(), rc))
	assert.Equal(t, "abc-123", seen)
}

func TestTimeout_ReplacesSlowResponse(t *testing.T) {
	h := Timeout(&TimeoutConfig{Timeout: 10 * time.Millisecond})(func(ctx context.Context, rc *dispatch.RequestContext) error {
		<-ctx.Done()
		rc.SetResponse(http.StatusInternalServerError, "application/json", []byte(`{}`))
		return nil
	})

	rc := newRC("GET", "/slow")
	require.NoError(t, h(context.Background(), rc))
	assert.Equal(t, http.StatusRequestTimeout, rc.Status)
	assert.Contains(t, string(rc.ResponseBody), "too long")
}

func TestLogger_PassesThrough(t *testing.T) {
	boom := errors.New("boom")
	h := Logger(nil)(func(ctx context.Context, rc *dispatch.RequestContext) error {
		rc.SetResponse(http.StatusBadGateway, "", nil)
		return boom
	})
	rc := newRC("GET", "/upstream?x=1")
	assert.ErrorIs(t, h(context.Background(), rc), boom)
	assert.Equal(t, http.StatusBadGateway, rc.Status)
}

func TestSession_RoundTripsValues(t *testing.T) {
	store := cache.NewMemoryCache(nil)
	defer store.Close()
	mw := Session(&SessionConfig{Store: store})

	counter := func(ctx context.Context, rc *dispatch.RequestContext) error {
		s := SessionFrom(rc)
		n, _ := s["visits"].(float64)
		s["visits"] = n + 1
		return rc.WriteJSON(http.StatusOK, s["visits"])
	}

	first := newRC("GET", "/")
	require.NoError(t, mw(counter)(context.Background(), first))
	cookie := first.ResponseHeader.Get("Set-Cookie")
	require.True(t, strings.HasPrefix(cookie, "sid="))
	id := strings.TrimPrefix(strings.SplitN(cookie, ";", 2)[0], "sid=")
	assert.Equal(t, "1", string(first.ResponseBody))

	second := newRC("GET", "/")
	second.Cookies["sid"] = id
	require.NoError(t, mw(counter)(context.Background(), second))
	assert.Equal(t, "2", string(second.ResponseBody))
	assert.Empty(t, second.ResponseHeader.Get("Set-Cookie"))
}

func TestMetrics_RecordsWithoutRegistry(t *testing.T) {
	m := observability.NewMetrics(&observability.MetricsConfig{Namespace: "test"})
	h := Metrics(m)(okTerminal)
	rc := newRC("GET", "/nowhere")
	require.NoError(t, h(context.Background(), rc))
	assert.Equal(t, "ok", string(rc.ResponseBody))
}
