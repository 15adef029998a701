package stream

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"dispatch_engine/internal/membership"
	"dispatch_engine/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// HeartbeatEvent keeps idle one-way connections open
	HeartbeatEvent = "heartbeat"

	// ErrorEvent replaces an event whose data could not be encoded
	ErrorEvent = "error"

	// RootChannel is the channel of connections opened at "/"
	RootChannel = "root"
)

// Sender delivers one event to one connection. It is the host's outbound
// callback: it must not block for long and must not call back into the
// manager for the connection it is sending to.
type Sender interface {
	Send(ctx context.Context, connectionID, event string, data []byte) error
}

// SenderFunc adapts a function to Sender
type SenderFunc func(ctx context.Context, connectionID, event string, data []byte) error

func (f SenderFunc) Send(ctx context.Context, connectionID, event string, data []byte) error {
	return f(ctx, connectionID, event, data)
}

// ChannelFor derives the auto-subscription channel from a request path:
// trimmed, lower-cased, outer slashes removed and inner slashes turned into
// dots. The site root maps to RootChannel.
func ChannelFor(path string) string {
	p := strings.ToLower(strings.TrimSpace(path))
	p = strings.Trim(p, "/")
	if p == "" {
		return RootChannel
	}
	return strings.ReplaceAll(p, "/", ".")
}

// Connection is one open event stream
type Connection struct {
	ID          string
	Path        string
	Channel     string
	ConnectedAt time.Time

	lastSeen atomic.Int64 // unix nanos

	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool
}

// LastSeen is the connect time, or the last time the host reported the
// client alive through Touch
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Channels returns the subscribed channels, sorted
func (c *Connection) Channels() []string {
	c.mu.Lock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	c.mu.Unlock()
	sort.Strings(out)
	return out
}

// Config holds manager configuration
type Config struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Sender delivers events. Nil drops them with a log line.
	Sender Sender

	// Metrics is optional
	Metrics *observability.EngineMetrics

	// Now overrides the clock in tests
	Now func() time.Time
}

// Manager tracks event-stream connections and their channel subscriptions
type Manager struct {
	conns    sync.Map // id -> *Connection
	channels membership.Index
	count    atomic.Int64

	mu      sync.RWMutex
	sender  Sender
	logger  *slog.Logger
	metrics *observability.EngineMetrics
	now     func() time.Time
}

// NewManager creates a connection manager
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sender:  cfg.Sender,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     now,
	}
}

// SetSender replaces the outbound callback
func (m *Manager) SetSender(s Sender) {
	m.mu.Lock()
	m.sender = s
	m.mu.Unlock()
}

// Connect registers a connection and subscribes it to the channel derived
// from path. An empty id gets a generated one. Connecting an id that is
// already open replaces the old connection.
func (m *Manager) Connect(id, path string) *Connection {
	if id == "" {
		id = uuid.NewString()
	}
	now := m.now()
	conn := &Connection{
		ID:          id,
		Path:        path,
		Channel:     ChannelFor(path),
		ConnectedAt: now,
		channels:    make(map[string]struct{}),
	}
	conn.lastSeen.Store(now.UnixNano())

	if prev, loaded := m.conns.Swap(id, conn); loaded {
		m.release(prev.(*Connection))
		m.logger.Debug("stream connection replaced", "connection_id", id)
	}
	m.count.Add(1)
	m.metrics.StreamConnections(1)

	m.Subscribe(id, conn.Channel)
	m.logger.Debug("stream connection opened", "connection_id", id, "path", path, "channel", conn.Channel)
	return conn
}

// Disconnect removes a connection from the registry and from every channel.
// It reports whether the connection was open.
func (m *Manager) Disconnect(id string) bool {
	v, ok := m.conns.LoadAndDelete(id)
	if !ok {
		return false
	}
	m.release(v.(*Connection))
	m.logger.Debug("stream connection closed", "connection_id", id)
	return true
}

// release closes a connection that is no longer in the registry and drops
// its subscriptions
func (m *Manager) release(conn *Connection) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	channels := make([]string, 0, len(conn.channels))
	for ch := range conn.channels {
		channels = append(channels, ch)
	}
	conn.channels = map[string]struct{}{}
	conn.mu.Unlock()

	for _, ch := range channels {
		m.channels.Remove(ch, conn.ID)
	}
	m.count.Add(-1)
	m.metrics.StreamConnections(-1)
}

// Get returns an open connection
func (m *Manager) Get(id string) (*Connection, bool) {
	v, ok := m.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Subscribe adds a connection to a channel. Unknown or closed connections
// are ignored.
func (m *Manager) Subscribe(id, channel string) bool {
	conn, ok := m.Get(id)
	if !ok || channel == "" {
		return false
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return false
	}
	conn.channels[channel] = struct{}{}
	m.channels.Add(channel, id)
	return true
}

// Unsubscribe removes a connection from a channel, including its
// auto-subscribed one
func (m *Manager) Unsubscribe(id, channel string) bool {
	conn, ok := m.Get(id)
	if !ok {
		return false
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if _, subscribed := conn.channels[channel]; !subscribed {
		return false
	}
	delete(conn.channels, channel)
	m.channels.Remove(channel, id)
	return true
}

// Touch records that the host observed the client alive
func (m *Manager) Touch(id string) bool {
	conn, ok := m.Get(id)
	if !ok {
		return false
	}
	conn.lastSeen.Store(m.now().UnixNano())
	return true
}

// Count returns the number of open connections
func (m *Manager) Count() int {
	return int(m.count.Load())
}

// Subscribers returns the open connections subscribed to channel, sorted
func (m *Manager) Subscribers(channel string) []string {
	members := m.channels.Members(channel)
	out := members[:0]
	for _, id := range members {
		if _, ok := m.conns.Load(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// Channels lists the channels with at least one subscriber
func (m *Manager) Channels() []string {
	return m.channels.Names()
}

// Connections returns the ids of every open connection, sorted
func (m *Manager) Connections() []string {
	var out []string
	m.conns.Range(func(id, _ any) bool {
		out = append(out, id.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// Send delivers an event to one connection. Unknown ids are ignored.
func (m *Manager) Send(ctx context.Context, id, event string, data any) {
	conn, ok := m.Get(id)
	if !ok {
		return
	}
	event, payload := m.encode(event, data)
	m.deliver(ctx, conn, event, payload, "send")
}

// SendToChannel delivers an event to the current subscribers of a channel
// and returns how many received it
func (m *Manager) SendToChannel(ctx context.Context, channel, event string, data any) int {
	targets := m.Subscribers(channel)
	if len(targets) == 0 {
		return 0
	}
	event, payload := m.encode(event, data)
	n := 0
	for _, id := range targets {
		conn, ok := m.Get(id)
		if ok && m.deliver(ctx, conn, event, payload, "channel") {
			n++
		}
	}
	return n
}

// Broadcast delivers an event to every open connection
func (m *Manager) Broadcast(ctx context.Context, event string, data any) int {
	return m.fanOut(ctx, event, data, "broadcast")
}

// SendHeartbeat delivers the heartbeat event to every open connection
func (m *Manager) SendHeartbeat(ctx context.Context) int {
	return m.fanOut(ctx, HeartbeatEvent, map[string]any{"timestamp": m.now().UTC().Format(time.RFC3339)}, "heartbeat")
}

func (m *Manager) fanOut(ctx context.Context, event string, data any, kind string) int {
	event, payload := m.encode(event, data)
	n := 0
	m.conns.Range(func(_, v any) bool {
		if m.deliver(ctx, v.(*Connection), event, payload, kind) {
			n++
		}
		return true
	})
	return n
}

// CleanupStaleConnections disconnects every connection not seen within
// timeout and returns how many were removed. A zero timeout removes all
// connections.
func (m *Manager) CleanupStaleConnections(timeout time.Duration) int {
	now := m.now()
	var stale []string
	m.conns.Range(func(id, v any) bool {
		if now.Sub(v.(*Connection).LastSeen()) >= timeout {
			stale = append(stale, id.(string))
		}
		return true
	})

	removed := 0
	for _, id := range stale {
		v, ok := m.conns.Load(id)
		if !ok || now.Sub(v.(*Connection).LastSeen()) < timeout {
			continue
		}
		if m.conns.CompareAndDelete(id, v) {
			m.release(v.(*Connection))
			removed++
		}
	}
	if removed > 0 {
		m.metrics.StreamEvicted(removed)
		m.logger.Info("evicted stale stream connections", "count", removed, "timeout", timeout)
	}
	return removed
}

// encode turns data into JSON. Unencodable data becomes an error event so
// the client still hears about it.
func (m *Manager) encode(event string, data any) (string, []byte) {
	payload, err := json.Marshal(data)
	if err != nil {
		m.logger.Warn("stream event not encodable", "event", event, "error", err)
		payload, _ = json.Marshal(map[string]string{"event": event, "error": err.Error()})
		return ErrorEvent, payload
	}
	return event, payload
}

// deliver hands one event to the sender while holding the connection's
// lock, so nothing reaches a connection once release has marked it closed.
// It reports whether the connection was still open. Sender faults are logged
// and swallowed.
func (m *Manager) deliver(ctx context.Context, conn *Connection, event string, payload []byte, kind string) (open bool) {
	m.mu.RLock()
	s := m.sender
	m.mu.RUnlock()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return false
	}
	open = true

	if s == nil {
		m.logger.Warn("stream event dropped, no sender", "connection_id", conn.ID, "event", event)
		m.metrics.TransportFault("stream")
		return open
	}

	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("stream sender panicked", "connection_id", conn.ID, "event", event, "panic", p)
			m.metrics.TransportFault("stream")
		}
	}()
	if err := s.Send(ctx, conn.ID, event, payload); err != nil {
		m.logger.Warn("stream send failed", "connection_id", conn.ID, "event", event, "error", err)
		m.metrics.TransportFault("stream")
		return open
	}
	m.metrics.StreamEvent(kind)
	return open
}
