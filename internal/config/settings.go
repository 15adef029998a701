package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig
	Server   ServerConfig
	TLS      TLSConfig
	Database DatabaseConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Session  SessionConfig
	Stream   StreamConfig
	Hubs     HubsConfig
	Metrics  MetricsConfig
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string
	Version     string
	Environment string // development, staging, production
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string
	Domain          string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	TrustedProxies  []string // CIDRs or IPs whose forwarding headers are honored
}

// TLSConfig holds TLS/HTTPS certificate settings
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig holds database connection settings. An empty URL runs the
// engine without a database.
type DatabaseConfig struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	HealthCheckPeriod time.Duration
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	ConnectTimeout    time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
}

// RedisConfig holds redis settings. An empty Addr keeps sessions in memory
// and disables the cross-instance backplane.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsChannel string
}

// CORSConfig holds CORS middleware settings
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// SessionConfig holds cookie session settings
type SessionConfig struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// StreamConfig holds event-stream settings
type StreamConfig struct {
	Path              string
	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration
	StaleTimeout      time.Duration
	BufferSize        int
}

// HubsConfig holds websocket hub endpoint settings
type HubsConfig struct {
	Path           string
	MaxMessageSize int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

// MetricsConfig holds prometheus settings
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Path      string
}

// LoadConfig loads configuration from a .env file and environment variables
func LoadConfig(logger *slog.Logger) (*Config, error) {
	// Load .env file (ignore error if it doesn't exist)
	godotenv.Load()

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("loading application configuration")

	config := &Config{}

	loadAppConfig(&config.App, logger)

	if err := loadServerConfig(&config.Server, logger); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	loadTLSConfig(&config.TLS, logger)
	loadDatabaseConfig(&config.Database, logger)
	loadRedisConfig(&config.Redis, logger)
	loadCORSConfig(&config.CORS, logger)
	loadSessionConfig(&config.Session, config.TLS.Enabled)
	loadStreamConfig(&config.Stream, logger)
	loadHubsConfig(&config.Hubs)
	loadMetricsConfig(&config.Metrics, config.App.Name)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded successfully",
		"environment", config.App.Environment,
		"version", config.App.Version,
		"port", config.Server.Port,
		"database", config.Database.URL != "",
		"redis", config.Redis.Addr != "",
	)

	return config, nil
}

func loadAppConfig(cfg *AppConfig, logger *slog.Logger) {
	cfg.Name = getEnv("APP_NAME", "dispatch")

	version := os.Getenv("VERSION")
	if version == "" {
		version = "1.0.0"
		logger.Warn("VERSION not set, using default", "default", version)
	}
	cfg.Version = version

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
		logger.Warn("ENV not set, using default", "default", env)
	}
	cfg.Environment = env
}

func loadServerConfig(cfg *ServerConfig, logger *slog.Logger) error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
		logger.Warn("PORT not set, using default", "default", port)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", port)
	}
	cfg.Port = port

	cfg.Domain = getEnv("DOMAIN", "localhost")
	cfg.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second)
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	cfg.TrustedProxies = splitAndTrim(os.Getenv("TRUSTED_PROXIES"), ",")
	return nil
}

func loadTLSConfig(cfg *TLSConfig, logger *slog.Logger) {
	certFile := os.Getenv("TLS_CERT_FILE")
	keyFile := os.Getenv("TLS_KEY_FILE")

	cfg.CertFile = certFile
	cfg.KeyFile = keyFile
	cfg.Enabled = certFile != "" && keyFile != ""

	if cfg.Enabled {
		logger.Info("TLS enabled", "cert_file", certFile, "key_file", keyFile)
	}
}

func loadDatabaseConfig(cfg *DatabaseConfig, logger *slog.Logger) {
	cfg.URL = os.Getenv("DB_URL")
	if cfg.URL == "" {
		logger.Warn("DB_URL not set, running without a database")
	}

	cfg.MaxConns = getEnvAsInt32("DB_MAX_CONNS", 10)
	cfg.MinConns = getEnvAsInt32("DB_MIN_CONNS", 2)
	cfg.HealthCheckPeriod = getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", time.Minute)
	cfg.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", 0)
	cfg.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 0)
	cfg.ConnectTimeout = getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second)
	cfg.MaxRetries = getEnvAsInt("DB_MAX_RETRIES", 3)
	cfg.RetryDelay = getEnvAsDuration("DB_RETRY_DELAY", time.Second)

	logger.Debug("database config loaded",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
	)
}

func loadRedisConfig(cfg *RedisConfig, logger *slog.Logger) {
	cfg.Addr = os.Getenv("REDIS_ADDR")
	cfg.Password = os.Getenv("REDIS_PASSWORD")
	cfg.DB = getEnvAsInt("REDIS_DB", 0)
	cfg.EventsChannel = getEnv("REDIS_EVENTS_CHANNEL", "dispatch:events")

	if cfg.Addr != "" {
		logger.Debug("Redis config loaded", "addr", cfg.Addr, "db", cfg.DB)
	}
}

func loadCORSConfig(cfg *CORSConfig, logger *slog.Logger) {
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins, ",")
	} else {
		cfg.AllowedOrigins = []string{"*"}
		logger.Warn("CORS_ALLOWED_ORIGINS not set, allowing all origins (not recommended for production)")
	}

	if methods := os.Getenv("CORS_ALLOWED_METHODS"); methods != "" {
		cfg.AllowedMethods = splitAndTrim(methods, ",")
	} else {
		cfg.AllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	}

	if headers := os.Getenv("CORS_ALLOWED_HEADERS"); headers != "" {
		cfg.AllowedHeaders = splitAndTrim(headers, ",")
	} else {
		cfg.AllowedHeaders = []string{"Content-Type", "Authorization", "X-Requested-With", "X-Request-ID"}
	}

	cfg.ExposedHeaders = splitAndTrim(os.Getenv("CORS_EXPOSE_HEADERS"), ",")
	cfg.AllowCredentials = getEnvAsBool("CORS_ALLOW_CREDENTIALS", false)
	cfg.MaxAge = getEnvAsInt("CORS_MAX_AGE", 3600)

	logger.Debug("CORS config loaded", "origins_count", len(cfg.AllowedOrigins))
}

func loadSessionConfig(cfg *SessionConfig, tls bool) {
	cfg.CookieName = getEnv("SESSION_COOKIE", "sid")
	cfg.TTL = getEnvAsDuration("SESSION_TTL", 30*time.Minute)
	cfg.Secure = getEnvAsBool("SESSION_SECURE", tls)
}

func loadStreamConfig(cfg *StreamConfig, logger *slog.Logger) {
	cfg.Path = getEnv("STREAM_PATH", "/events")
	cfg.HeartbeatInterval = getEnvAsDuration("STREAM_HEARTBEAT_INTERVAL", 15*time.Second)
	cfg.CleanupInterval = getEnvAsDuration("STREAM_CLEANUP_INTERVAL", time.Minute)
	cfg.StaleTimeout = getEnvAsDuration("STREAM_STALE_TIMEOUT", 5*time.Minute)
	cfg.BufferSize = getEnvAsInt("STREAM_BUFFER_SIZE", 64)

	if cfg.HeartbeatInterval > 0 && cfg.StaleTimeout > 0 && cfg.StaleTimeout <= cfg.HeartbeatInterval {
		logger.Warn("STREAM_STALE_TIMEOUT is not longer than the heartbeat interval, live connections may be evicted",
			"stale_timeout", cfg.StaleTimeout,
			"heartbeat_interval", cfg.HeartbeatInterval,
		)
	}
}

func loadHubsConfig(cfg *HubsConfig) {
	cfg.Path = getEnv("HUBS_PATH", "/hubs")
	cfg.MaxMessageSize = int64(getEnvAsInt("HUBS_MAX_MESSAGE_BYTES", 64*1024))
	cfg.WriteTimeout = getEnvAsDuration("HUBS_WRITE_TIMEOUT", 10*time.Second)
	cfg.PingInterval = getEnvAsDuration("HUBS_PING_INTERVAL", 30*time.Second)
	cfg.BufferSize = getEnvAsInt("HUBS_BUFFER_SIZE", 64)
}

func loadMetricsConfig(cfg *MetricsConfig, appName string) {
	cfg.Enabled = getEnvAsBool("METRICS_ENABLED", true)
	cfg.Namespace = getEnv("METRICS_NAMESPACE", strings.ReplaceAll(appName, "-", "_"))
	cfg.Path = getEnv("METRICS_PATH", "/metrics")
}

// Helper functions

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsInt32(key string, defaultVal int32) int32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 32); err == nil {
			return int32(parsed)
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

// getEnvAsDuration accepts Go durations ("15s") or plain seconds ("15")
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func splitAndTrim(s, sep string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.IsProduction() && len(c.CORS.AllowedOrigins) == 1 && c.CORS.AllowedOrigins[0] == "*" {
		return fmt.Errorf("CORS wildcard origin (*) is not allowed in production")
	}
	if c.Hubs.Path == c.Stream.Path {
		return fmt.Errorf("hub path and stream path must differ, both are %q", c.Hubs.Path)
	}
	if !strings.HasPrefix(c.Hubs.Path, "/") || !strings.HasPrefix(c.Stream.Path, "/") {
		return fmt.Errorf("hub and stream paths must start with /")
	}
	return nil
}
