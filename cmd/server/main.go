package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"dispatch_engine/internal/app"
	"dispatch_engine/internal/backplane"
	"dispatch_engine/internal/cache"
	"dispatch_engine/internal/config"
	"dispatch_engine/internal/di"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/engine"
	"dispatch_engine/internal/hubs"
	"dispatch_engine/internal/jobs"
	"dispatch_engine/internal/middlewares"
	"dispatch_engine/internal/observability"
	"dispatch_engine/internal/router"
	"dispatch_engine/internal/routing"
	"dispatch_engine/internal/security"
	"dispatch_engine/internal/server"
	"dispatch_engine/internal/stream"
)

func main() {
	// Setup logger
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.LoadConfig(logger)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	observability.SetVersion(cfg.App.Version)

	ctx := context.Background()
	var resources []server.Resource

	// Optional PostgreSQL; notes fall back to memory without it
	var pool *pgxpool.Pool
	var notes app.NoteStore = app.NewMemoryNoteStore()
	if cfg.Database.URL != "" {
		pool, err = config.OpenPool(ctx, &cfg.Database, logger)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		store := app.NewPostgresNoteStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare schema: %v", err)
		}
		notes = store
		resources = append(resources, server.NewDatabaseResource("postgres", pool))
	}

	// Optional Redis for sessions and the cross-instance backplane
	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb, err = connectRedis(ctx, &cfg.Redis, logger)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		resources = append(resources, server.NewRedisResource("redis", rdb))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var engineMetrics *observability.EngineMetrics
	var httpMetrics *observability.Metrics
	if cfg.Metrics.Enabled {
		engineMetrics = observability.NewEngineMetrics(cfg.Metrics.Namespace, registry)
		metricsCfg := observability.DefaultMetricsConfig(cfg.Metrics.Namespace)
		metricsCfg.Logger = logger
		metricsCfg.Registerer = registry
		httpMetrics = observability.NewMetrics(metricsCfg)
	}

	// Routes and dispatcher
	container := di.NewContainer(logger)
	table := routing.Discover(logger, app.Controllers()...)
	renderer, err := app.NewEmbeddedRenderer(logger)
	if err != nil {
		log.Fatalf("Failed to load views: %v", err)
	}
	dispatcher := dispatch.New(table, &dispatch.Config{
		Logger:      logger,
		Renderer:    renderer,
		Development: cfg.IsDevelopment(),
		Metrics:     engineMetrics,
	})

	hubRegistry := hubs.NewRegistry(&hubs.Config{
		Logger:    logger,
		Container: container,
		Metrics:   engineMetrics,
	}, app.Hubs(logger)...)
	streams := stream.NewManager(&stream.Config{Logger: logger, Metrics: engineMetrics})

	health := observability.DefaultHealthConfig()
	health.Logger = logger
	health.DatabasePool = pool
	health.IncludeDetails = cfg.IsDevelopment()
	if rdb != nil {
		health.Register("redis", observability.RedisHealthCheck(rdb))
	}
	health.Register("hub_connections", observability.CountCheck("hub connections", hubRegistry.ConnectionCount, 10_000))
	health.Register("stream_connections", observability.CountCheck("stream connections", streams.Count, 10_000))

	pipeline := buildPipeline(cfg, logger, container, rdb, httpMetrics, health)

	// Real-time endpoints
	sockets := router.NewHubSockets(&router.HubSocketsConfig{
		Logger:         logger,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxMessageSize: cfg.Hubs.MaxMessageSize,
		WriteTimeout:   cfg.Hubs.WriteTimeout,
		PingInterval:   cfg.Hubs.PingInterval,
		BufferSize:     cfg.Hubs.BufferSize,
	})
	eventStreams := router.NewEventStreams(&router.EventStreamsConfig{
		Logger:     logger,
		BufferSize: cfg.Stream.BufferSize,
	})

	engineCfg := &engine.Config{
		Logger:       logger,
		Dispatcher:   dispatcher,
		Pipeline:     pipeline,
		Hubs:         hubRegistry,
		Streams:      streams,
		HubTransport: sockets,
		StreamSender: eventStreams,
		Metrics:      engineMetrics,
	}
	if rdb != nil {
		engineCfg.Broker = backplane.NewRedisBroker(rdb)
		engineCfg.BrokerChannel = cfg.Redis.EventsChannel
	}
	eng, err := engine.New(engineCfg)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	resources = append(resources, eng)

	app.Register(container, &app.Services{
		Logger:  logger,
		AppName: cfg.App.Name,
		Notes:   notes,
		Events:  eng.Events(),
		Hubs:    eng.Hubs(),
		Streams: eng.Streams(),
		Table:   table,
	})

	// Stream maintenance
	scheduler := jobs.NewScheduler(&jobs.SchedulerConfig{Logger: logger, Resolution: time.Second})
	jobs.RegisterStreamJobs(scheduler, eng.Streams(), &jobs.StreamJobsConfig{
		Logger:            logger,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		CleanupInterval:   cfg.Stream.CleanupInterval,
		StaleTimeout:      cfg.Stream.StaleTimeout,
	})
	scheduler.Start(ctx)
	resources = append(resources, scheduler)

	routerCfg := router.DefaultConfig(eng)
	routerCfg.Logger = logger
	routerCfg.Sockets = sockets
	routerCfg.Streams = eventStreams
	routerCfg.HubsPath = cfg.Hubs.Path
	routerCfg.StreamPath = cfg.Stream.Path
	routerCfg.MetricsPath = cfg.Metrics.Path
	routerCfg.Readiness = health
	routerCfg.Development = cfg.IsDevelopment()
	routerCfg.TrustedProxies = cfg.Server.TrustedProxies
	if cfg.Metrics.Enabled {
		routerCfg.Gatherer = registry
	}
	r := router.New(routerCfg)

	serverCfg := server.DefaultConfig(cfg.Addr())
	serverCfg.Logger = logger
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	serverCfg.OnShutdown = []func(){r.Drain}
	if cfg.TLS.Enabled {
		serverCfg.TLSCertFile = cfg.TLS.CertFile
		serverCfg.TLSKeyFile = cfg.TLS.KeyFile
	}

	logger.Info("Starting server",
		"port", cfg.Server.Port,
		"environment", cfg.App.Environment,
		"routes", table.Len(),
		"hubs_path", cfg.Hubs.Path,
		"stream_path", cfg.Stream.Path,
	)

	if err := server.Run(ctx, r, serverCfg, resources...); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildPipeline assembles the interceptors, outermost first
// newRequestID is swapped in tests
var newRequestID = observability.NewRequestID

func buildPipeline(cfg *config.Config, logger *slog.Logger, container *di.Container, rdb redis.UniversalClient, metrics *observability.Metrics, health *observability.HealthConfig) *middlewares.Pipeline {
	corsCfg := middlewares.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	corsCfg.AllowMethods = cfg.CORS.AllowedMethods
	corsCfg.AllowHeaders = cfg.CORS.AllowedHeaders
	corsCfg.ExposeHeaders = cfg.CORS.ExposedHeaders
	corsCfg.AllowCredentials = cfg.CORS.AllowCredentials
	corsCfg.MaxAge = cfg.CORS.MaxAge
	corsCfg.Logger = logger

	loggerCfg := middlewares.DefaultLoggerConfig()
	loggerCfg.Logger = logger

	timeoutCfg := middlewares.DefaultTimeoutConfig()
	timeoutCfg.Logger = logger
	if cfg.Server.RequestTimeout > 0 {
		timeoutCfg.Timeout = cfg.Server.RequestTimeout
	}

	headersCfg := middlewares.DefaultResponseHeadersConfig()
	headersCfg.Logger = logger

	sessionStore := cache.Cache(cache.NewMemoryCache(cache.DefaultConfig()))
	if rdb != nil {
		redisCfg := cache.DefaultConfig()
		redisCfg.Prefix = cfg.App.Name + ":"
		sessionStore = cache.NewFallbackCache(cache.NewRedisCache(rdb, redisCfg, logger), cache.DefaultConfig(), logger)
	}

	pipeline := middlewares.NewPipeline(
		middlewares.Recovery(&middlewares.RecoveryConfig{Logger: logger, Development: cfg.IsDevelopment()}),
		middlewares.RequestID(&middlewares.RequestIDConfig{Generator: newRequestID}),
		middlewares.Logger(loggerCfg),
		middlewares.CORS(corsCfg),
		middlewares.Health(&middlewares.HealthMiddlewareConfig{Path: "/health", Checks: health}),
		middlewares.Timeout(timeoutCfg),
		middlewares.ResponseHeaders(headersCfg),
	)
	if metrics != nil {
		pipeline.Use(middlewares.Metrics(metrics))
	}
	pipeline.Use(
		middlewares.Scope(container, logger),
		middlewares.Session(&middlewares.SessionConfig{
			Store:      sessionStore,
			CookieName: cfg.Session.CookieName,
			TTL:        cfg.Session.TTL,
			Secure:     cfg.Session.Secure,
			Logger:     logger,
		}),
		security.CSRF(&security.CSRFConfig{Skipper: security.SkipJSON, Logger: logger}),
	)
	return pipeline
}

// connectRedis opens a client and verifies it answers
func connectRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("redis connected", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}
