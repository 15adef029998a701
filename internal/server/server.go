package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Config holds HTTP server configuration
type Config struct {
	// Server address (host:port)
	Addr string

	// Logger for structured logging
	Logger *slog.Logger

	// ReadHeaderTimeout bounds how long a client may take to send headers
	ReadHeaderTimeout time.Duration

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout must stay zero while event streams and hub sockets are
	// served; per-request deadlines come from the timeout middleware
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration

	// MaxHeaderBytes controls the maximum number of bytes the server will read parsing the request header
	MaxHeaderBytes int

	// TLS configuration
	TLSCertFile string
	TLSKeyFile  string

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration

	// OnShutdown hooks run when shutdown starts. Long-lived streams and
	// hijacked websocket connections are not tracked by http.Server and
	// must be closed here.
	OnShutdown []func()
}

// DefaultConfig returns a default server configuration
func DefaultConfig(addr string) *Config {
	return &Config{
		Addr:              addr,
		Logger:            nil,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
		ShutdownTimeout:   30 * time.Second,
	}
}

// New creates a new HTTP server with the given configuration
func New(handler http.Handler, config *Config) *http.Server {
	if config == nil {
		config = DefaultConfig(":8080")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := &http.Server{
		Addr:              config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	for _, fn := range config.OnShutdown {
		if fn != nil {
			server.RegisterOnShutdown(fn)
		}
	}

	logger.Info("http server configured",
		"addr", config.Addr,
		"read_timeout", config.ReadTimeout.String(),
		"write_timeout", config.WriteTimeout.String(),
		"idle_timeout", config.IdleTimeout.String(),
	)

	return server
}

// Run serves handler until a shutdown signal arrives, ctx ends or the
// listener fails, then closes the server followed by resources in reverse
// registration order
func Run(ctx context.Context, handler http.Handler, config *Config, resources ...Resource) error {
	if config == nil {
		config = DefaultConfig(":8080")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	srv := New(handler, config)

	sm := NewShutdownManager(&ShutdownConfig{
		Logger:  logger,
		Timeout: config.ShutdownTimeout,
		Signals: DefaultShutdownConfig().Signals,
		OnShutdownStart: func() {
			logger.Info("shutdown initiated, stopping server gracefully")
		},
		OnShutdownComplete: func() {
			logger.Info("shutdown complete")
		},
	})
	for _, r := range resources {
		sm.Register(r)
	}
	// registered last so it closes first
	sm.Register(NewHTTPServerResource("http-server", srv))

	listenErr := make(chan error, 1)
	go func() {
		var err error
		if config.TLSCertFile != "" && config.TLSKeyFile != "" {
			logger.Info("starting https server", "addr", srv.Addr)
			err = srv.ListenAndServeTLS(config.TLSCertFile, config.TLSKeyFile)
		} else {
			logger.Info("starting http server", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	return sm.Wait(ctx, listenErr)
}
