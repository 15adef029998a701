// Package backplane relays hub and stream events between engine instances
// so a client connected to one instance receives events raised on another.
package backplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"dispatch_engine/internal/hubs"
	"dispatch_engine/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	kindHub       = "hub"
	kindSend      = "stream.send"
	kindChannel   = "stream.channel"
	kindBroadcast = "stream.broadcast"
)

// StreamFanout is the local event-stream surface, satisfied by
// *stream.Manager
type StreamFanout interface {
	Send(ctx context.Context, id, event string, data any)
	SendToChannel(ctx context.Context, channel, event string, data any) int
	Broadcast(ctx context.Context, event string, data any) int
}

// envelope is the wire form of one relayed event
type envelope struct {
	Origin     string              `json:"origin"`
	Kind       string              `json:"kind"`
	Hub        string              `json:"hub,omitempty"`
	Method     string              `json:"method,omitempty"`
	Target     string              `json:"target,omitempty"`
	Connection string              `json:"connection,omitempty"`
	Channel    string              `json:"channel,omitempty"`
	Event      string              `json:"event,omitempty"`
	Data       jsoniter.RawMessage `json:"data,omitempty"`
}

// Config holds backplane configuration
type Config struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Broker carries envelopes between instances
	Broker Broker

	// Channel is the broker channel all instances share
	Channel string

	// InstanceID identifies this process. Generated when empty.
	InstanceID string

	// Hubs delivers hub events to connections held by this instance
	Hubs hubs.Transport

	// Streams fans stream events out to connections held by this instance
	Streams StreamFanout

	// Metrics is optional
	Metrics *observability.EngineMetrics
}

// DefaultConfig returns a configuration using the given broker
func DefaultConfig(broker Broker) *Config {
	return &Config{
		Broker:  broker,
		Channel: "dispatch:events",
	}
}

// Backplane publishes every outbound event and replays events published by
// other instances to local connections
type Backplane struct {
	broker   Broker
	channel  string
	instance string
	hubs     hubs.Transport
	streams  StreamFanout
	logger   *slog.Logger
	metrics  *observability.EngineMetrics

	mu     sync.Mutex
	sub    Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a backplane. Call Start before relying on remote delivery.
func New(cfg *Config) *Backplane {
	if cfg == nil {
		cfg = DefaultConfig(NewMemoryBroker())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broker := cfg.Broker
	if broker == nil {
		broker = NewMemoryBroker()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "dispatch:events"
	}
	instance := cfg.InstanceID
	if instance == "" {
		instance = uuid.NewString()
	}
	return &Backplane{
		broker:   broker,
		channel:  channel,
		instance: instance,
		hubs:     cfg.Hubs,
		streams:  cfg.Streams,
		logger:   logger.With("instance", instance),
		metrics:  cfg.Metrics,
	}
}

// InstanceID returns the id stamped on published envelopes
func (b *Backplane) InstanceID() string { return b.instance }

// HubTransport delivers locally and publishes for other instances
func (b *Backplane) HubTransport() hubs.Transport {
	return hubs.TransportFunc(func(ctx context.Context, hub, method, target string, args []byte) error {
		var localErr error
		if b.hubs != nil {
			localErr = b.hubs.Dispatch(ctx, hub, method, target, args)
		}
		pubErr := b.publish(ctx, envelope{Kind: kindHub, Hub: hub, Method: method, Target: target, Data: args})
		return errors.Join(localErr, pubErr)
	})
}

// Send delivers a stream event to one connection, wherever it is held
func (b *Backplane) Send(ctx context.Context, id, event string, data any) {
	if b.streams != nil {
		b.streams.Send(ctx, id, event, data)
	}
	b.publishStream(ctx, envelope{Kind: kindSend, Connection: id, Event: event}, data)
}

// SendToChannel delivers a stream event to the channel's subscribers on
// every instance. The count covers local subscribers only.
func (b *Backplane) SendToChannel(ctx context.Context, channel, event string, data any) int {
	n := 0
	if b.streams != nil {
		n = b.streams.SendToChannel(ctx, channel, event, data)
	}
	b.publishStream(ctx, envelope{Kind: kindChannel, Channel: channel, Event: event}, data)
	return n
}

// Broadcast delivers a stream event to every connection on every instance.
// The count covers local connections only.
func (b *Backplane) Broadcast(ctx context.Context, event string, data any) int {
	n := 0
	if b.streams != nil {
		n = b.streams.Broadcast(ctx, event, data)
	}
	b.publishStream(ctx, envelope{Kind: kindBroadcast, Event: event}, data)
	return n
}

func (b *Backplane) publishStream(ctx context.Context, env envelope, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		// the local manager already turned this into an error event
		return
	}
	env.Data = raw
	if err := b.publish(ctx, env); err != nil {
		b.logger.Warn("backplane publish failed", "kind", env.Kind, "error", err)
	}
}

func (b *Backplane) publish(ctx context.Context, env envelope) error {
	env.Origin = b.instance
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.broker.Publish(ctx, b.channel, payload); err != nil {
		b.metrics.TransportFault("backplane")
		return err
	}
	return nil
}

// Start subscribes to the shared channel and relays remote envelopes until
// Close is called or ctx ends
func (b *Backplane) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return errors.New("backplane already started")
	}

	sub, err := b.broker.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	b.sub = sub
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	go b.run(runCtx, sub, b.done)

	b.logger.Info("backplane started", "channel", b.channel)
	return nil
}

func (b *Backplane) run(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)
	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			b.relay(ctx, payload)
		}
	}
}

// relay delivers one remote envelope to local connections
func (b *Backplane) relay(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("backplane envelope not decodable", "error", err)
		return
	}
	if env.Origin == b.instance {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("backplane local delivery panicked", "kind", env.Kind, "panic", p)
			b.metrics.TransportFault("backplane")
		}
	}()

	var err error
	switch env.Kind {
	case kindHub:
		if b.hubs != nil {
			err = b.hubs.Dispatch(ctx, env.Hub, env.Method, env.Target, env.Data)
		}
	case kindSend:
		if b.streams != nil {
			b.streams.Send(ctx, env.Connection, env.Event, env.Data)
		}
	case kindChannel:
		if b.streams != nil {
			b.streams.SendToChannel(ctx, env.Channel, env.Event, env.Data)
		}
	case kindBroadcast:
		if b.streams != nil {
			b.streams.Broadcast(ctx, env.Event, env.Data)
		}
	default:
		b.logger.Warn("backplane envelope kind unknown", "kind", env.Kind, "origin", env.Origin)
		return
	}
	if err != nil {
		b.logger.Debug("backplane local delivery failed", "kind", env.Kind, "origin", env.Origin, "error", err)
	}
}

// Name implements server.Resource
func (b *Backplane) Name() string { return "backplane" }

// Close stops relaying and releases the subscription
func (b *Backplane) Close(ctx context.Context) error {
	b.mu.Lock()
	sub, cancel, done := b.sub, b.cancel, b.done
	b.sub, b.cancel, b.done = nil, nil, nil
	b.mu.Unlock()

	if sub == nil {
		return nil
	}
	cancel()
	err := sub.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.logger.Info("backplane stopped")
	return err
}
