package config

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("DB_URL", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.True(t, cfg.IsDevelopment())
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "/events", cfg.Stream.Path)
	assert.Equal(t, "/hubs", cfg.Hubs.Path)
	assert.Equal(t, 15*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "dispatch", cfg.Metrics.Namespace)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "staging")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("STREAM_HEARTBEAT_INTERVAL", "5s")
	t.Setenv("STREAM_STALE_TIMEOUT", "120")
	t.Setenv("DB_MAX_CONNS", "40")
	t.Setenv("SESSION_SECURE", "yes")
	t.Setenv("APP_NAME", "my-app")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.Stream.StaleTimeout)
	assert.Equal(t, int32(40), cfg.Database.MaxConns)
	assert.True(t, cfg.Session.Secure)
	assert.Equal(t, "my_app", cfg.Metrics.Namespace)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Server.TrustedProxies)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("non-numeric port", func(t *testing.T) {
		t.Setenv("PORT", "eighty")
		_, err := LoadConfig(nil)
		assert.ErrorContains(t, err, "PORT")
	})

	t.Run("wildcard CORS in production", func(t *testing.T) {
		t.Setenv("PORT", "8080")
		t.Setenv("ENV", "production")
		t.Setenv("CORS_ALLOWED_ORIGINS", "")
		_, err := LoadConfig(nil)
		assert.ErrorContains(t, err, "CORS")
	})

	t.Run("same hub and stream path", func(t *testing.T) {
		t.Setenv("PORT", "8080")
		t.Setenv("ENV", "development")
		t.Setenv("HUBS_PATH", "/rt")
		t.Setenv("STREAM_PATH", "/rt")
		_, err := LoadConfig(nil)
		assert.ErrorContains(t, err, "must differ")
	})
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("D1", "250ms")
	t.Setenv("D2", "3")
	t.Setenv("D3", "soon")

	assert.Equal(t, 250*time.Millisecond, getEnvAsDuration("D1", 0))
	assert.Equal(t, 3*time.Second, getEnvAsDuration("D2", 0))
	assert.Equal(t, time.Minute, getEnvAsDuration("D3", time.Minute))
	assert.Equal(t, time.Hour, getEnvAsDuration("D_UNSET", time.Hour))
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, time.Second, calculateBackoff(time.Second, 1))
	assert.Equal(t, 4*time.Second, calculateBackoff(time.Second, 3))
	assert.Equal(t, 30*time.Second, calculateBackoff(time.Second, 10))
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, 503, "hub unavailable", "", nil)

	assert.Equal(t, 503, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Service Unavailable","message":"hub unavailable"}`, w.Body.String())
}
