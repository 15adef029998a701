package main

import (
	"context"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/di"
	"dispatch_engine/internal/dispatch"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ENV", "staging")
	t.Setenv("PORT", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("DB_URL", "")
	cfg, err := config.LoadConfig(nil)
	require.NoError(t, err)
	return cfg
}

func TestBuildPipeline_RecoveryCoversOuterMiddlewares(t *testing.T) {
	orig := newRequestID
	newRequestID = func() string { panic("request id source unavailable") }
	t.Cleanup(func() { newRequestID = orig })

	h := buildPipeline(testConfig(t), slog.Default(), di.NewContainer(nil), nil, nil, nil).Build(
		func(ctx context.Context, rc *dispatch.RequestContext) error {
			rc.SetResponse(http.StatusOK, "text/plain", []byte("ok"))
			return nil
		})

	rc := dispatch.NewRequestContext(context.Background(), http.MethodGet, "/")
	require.NotPanics(t, func() {
		assert.NoError(t, h(context.Background(), rc))
	})
	assert.Equal(t, http.StatusInternalServerError, rc.Status)
	assert.Contains(t, string(rc.ResponseBody), "Internal Server Error")
}

func TestBuildPipeline_ServesRequests(t *testing.T) {
	h := buildPipeline(testConfig(t), slog.Default(), di.NewContainer(nil), nil, nil, nil).Build(
		func(ctx context.Context, rc *dispatch.RequestContext) error {
			rc.SetResponse(http.StatusOK, "text/plain", []byte("ok"))
			return nil
		})

	rc := dispatch.NewRequestContext(context.Background(), http.MethodGet, "/")
	require.NoError(t, h(context.Background(), rc))
	assert.Equal(t, http.StatusOK, rc.Status)
	assert.Equal(t, "ok", string(rc.ResponseBody))
	assert.NotEmpty(t, rc.ResponseHeader.Get("X-Request-ID"))
}
