// Package engine is the surface a host process drives: one call per HTTP
// request and one call per real-time connection event.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"dispatch_engine/internal/backplane"
	"dispatch_engine/internal/config"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/hubs"
	"dispatch_engine/internal/middlewares"
	"dispatch_engine/internal/observability"
	"dispatch_engine/internal/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoDispatcher is returned by New when Config.Dispatcher is nil
var ErrNoDispatcher = errors.New("engine: dispatcher is required")

// Config holds engine configuration
type Config struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Dispatcher terminates the pipeline
	Dispatcher *dispatch.Dispatcher

	// Pipeline wraps the dispatcher. Nil runs the dispatcher alone.
	Pipeline *middlewares.Pipeline

	// Hubs and Streams are created empty when nil
	Hubs    *hubs.Registry
	Streams *stream.Manager

	// HubTransport delivers hub events to connections held by this process
	HubTransport hubs.Transport

	// StreamSender writes stream events to connections held by this process
	StreamSender stream.Sender

	// Broker enables cross-instance delivery when set
	Broker        backplane.Broker
	BrokerChannel string

	// Metrics is optional
	Metrics *observability.EngineMetrics
}

// Engine ties the pipeline, the dispatcher, the hub registry and the stream
// manager together behind the host-facing operations
type Engine struct {
	handler    middlewares.Handler
	dispatcher *dispatch.Dispatcher
	hubs       *hubs.Registry
	streams    *stream.Manager
	backplane  *backplane.Backplane
	logger     *slog.Logger
}

// New builds an engine. Outbound hub and stream traffic is routed through
// the backplane when a broker is configured.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil || cfg.Dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Hubs
	if registry == nil {
		registry = hubs.NewRegistry(&hubs.Config{Logger: logger, Metrics: cfg.Metrics})
	}
	streams := cfg.Streams
	if streams == nil {
		streams = stream.NewManager(&stream.Config{Logger: logger, Metrics: cfg.Metrics})
	}
	if cfg.StreamSender != nil {
		streams.SetSender(cfg.StreamSender)
	}

	pipeline := cfg.Pipeline
	if pipeline == nil {
		pipeline = middlewares.NewPipeline()
	}

	e := &Engine{
		handler:    pipeline.Build(cfg.Dispatcher.Dispatch),
		dispatcher: cfg.Dispatcher,
		hubs:       registry,
		streams:    streams,
		logger:     logger,
	}

	if cfg.Broker != nil {
		bpCfg := backplane.DefaultConfig(cfg.Broker)
		bpCfg.Logger = logger
		bpCfg.Hubs = cfg.HubTransport
		bpCfg.Streams = streams
		bpCfg.Metrics = cfg.Metrics
		if cfg.BrokerChannel != "" {
			bpCfg.Channel = cfg.BrokerChannel
		}
		e.backplane = backplane.New(bpCfg)
		registry.SetTransport(e.backplane.HubTransport())
	} else if cfg.HubTransport != nil {
		registry.SetTransport(cfg.HubTransport)
	}

	logger.Info("engine ready",
		"routes", cfg.Dispatcher.Table().Len(),
		"middlewares", pipeline.Len(),
		"hubs", registry.Hubs(),
		"backplane", e.backplane != nil,
	)
	return e, nil
}

// Start subscribes to the backplane, if any
func (e *Engine) Start(ctx context.Context) error {
	if e.backplane == nil {
		return nil
	}
	return e.backplane.Start(ctx)
}

// ProcessRequest runs rc through the pipeline and the dispatcher. The
// response fields of rc are always populated on return; an error that
// escaped every interceptor is turned into a 500 and also returned.
func (e *Engine) ProcessRequest(ctx context.Context, rc *dispatch.RequestContext) error {
	if ctx == nil {
		ctx = rc.Context()
	}
	rc.WithContext(ctx)

	err := e.handler(ctx, rc)
	if err != nil {
		e.logger.Error("request failed outside the dispatcher",
			"method", rc.Method,
			"path", rc.Path,
			"request_id", observability.GetRequestID(ctx),
			"error", err,
		)
		body, _ := json.Marshal(config.ErrorResponse{
			Error:   http.StatusText(http.StatusInternalServerError),
			Message: "An internal error occurred",
			Code:    "INTERNAL_ERROR",
		})
		rc.SetResponse(http.StatusInternalServerError, "application/json", body)
		return err
	}
	if rc.Status == 0 {
		rc.Status = http.StatusOK
	}
	return nil
}

// HubConnect opens a connection on hub and returns its id
func (e *Engine) HubConnect(ctx context.Context, hub string) (string, error) {
	return e.hubs.Connect(ctx, hub)
}

// HubDisconnect closes a hub connection. Unknown ids are ignored.
func (e *Engine) HubDisconnect(ctx context.Context, hub, connectionID string) error {
	return e.hubs.Disconnect(ctx, hub, connectionID)
}

// HubInvoke calls a hub method and returns the JSON result, nil for void
// methods or an {"error": ...} payload
func (e *Engine) HubInvoke(ctx context.Context, hub, method, connectionID string, args []byte) []byte {
	return e.hubs.Invoke(ctx, hub, method, connectionID, args)
}

// SseConnect registers a stream connection for path
func (e *Engine) SseConnect(connectionID, path string) *stream.Connection {
	return e.streams.Connect(connectionID, path)
}

// SseDisconnect drops a stream connection
func (e *Engine) SseDisconnect(connectionID string) bool {
	return e.streams.Disconnect(connectionID)
}

// SseSubscribe adds a channel subscription beyond the one derived from the
// connection's path
func (e *Engine) SseSubscribe(connectionID, channel string) bool {
	return e.streams.Subscribe(connectionID, channel)
}

// SseTouch records that the client behind connectionID is still reading
func (e *Engine) SseTouch(connectionID string) bool {
	return e.streams.Touch(connectionID)
}

func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.dispatcher }

func (e *Engine) Hubs() *hubs.Registry { return e.hubs }

func (e *Engine) Streams() *stream.Manager { return e.streams }

// Events pushes stream events to every instance when a backplane is
// configured, otherwise to local connections only
func (e *Engine) Events() backplane.StreamFanout {
	if e.backplane != nil {
		return e.backplane
	}
	return e.streams
}

func (e *Engine) Name() string { return "engine" }

// Close stops the backplane and drops every stream connection
func (e *Engine) Close(ctx context.Context) error {
	var err error
	if e.backplane != nil {
		err = e.backplane.Close(ctx)
	}
	for _, id := range e.streams.Connections() {
		e.streams.Disconnect(id)
	}
	return err
}
