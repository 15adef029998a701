package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/hubs"
	"dispatch_engine/internal/membership"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame types exchanged on a hub socket
const (
	FrameInvoke     = "invoke"
	FrameCompletion = "completion"
	FrameEvent      = "event"
)

// ErrSendBufferFull is returned when a socket's outbound queue is full
var ErrSendBufferFull = errors.New("hub socket send buffer full")

// HubHost is the hub side of the engine
type HubHost interface {
	HubConnect(ctx context.Context, hub string) (string, error)
	HubDisconnect(ctx context.Context, hub, connectionID string) error
	HubInvoke(ctx context.Context, hub, method, connectionID string, args []byte) []byte
}

// Frame is one message on a hub socket. Clients send invoke frames; the
// server answers each with a completion frame carrying the same id and
// pushes event frames for hub-initiated calls.
type Frame struct {
	Type   string              `json:"type"`
	ID     string              `json:"id,omitempty"`
	Hub    string              `json:"hub,omitempty"`
	Method string              `json:"method,omitempty"`
	Args   jsoniter.RawMessage `json:"args,omitempty"`
	Result jsoniter.RawMessage `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// HubSocketsConfig configures the websocket hub endpoint
type HubSocketsConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// AllowedOrigins for the upgrade handshake. Empty or "*" accepts any origin.
	AllowedOrigins []string

	// MaxMessageSize caps inbound frames
	MaxMessageSize int64

	// WriteTimeout bounds each outbound write
	WriteTimeout time.Duration

	// PingInterval between keepalive pings. The read deadline is a little
	// longer so one lost pong is tolerated.
	PingInterval time.Duration

	// BufferSize of each socket's outbound queue
	BufferSize int
}

// DefaultHubSocketsConfig returns the default endpoint settings
func DefaultHubSocketsConfig() *HubSocketsConfig {
	return &HubSocketsConfig{
		MaxMessageSize: 64 << 10,
		WriteTimeout:   10 * time.Second,
		PingInterval:   54 * time.Second,
		BufferSize:     256,
	}
}

// HubSockets holds the websocket connections of this process and delivers
// hub events to them. It implements hubs.Transport.
type HubSockets struct {
	config   *HubSocketsConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	origins  map[string]struct{}
	anyOrig  bool

	clients sync.Map // connection id -> *hubClient
	members membership.Index
}

type hubClient struct {
	id        string
	hub       string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *hubClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NewHubSockets creates an empty connection table
func NewHubSockets(cfg *HubSocketsConfig) *HubSockets {
	if cfg == nil {
		cfg = DefaultHubSocketsConfig()
	}
	defaults := DefaultHubSocketsConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &HubSockets{
		config:  cfg,
		logger:  logger,
		origins: make(map[string]struct{}),
	}
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			s.anyOrig = true
			continue
		}
		if norm, ok := normalizeOrigin(o); ok {
			s.origins[norm] = struct{}{}
		} else if o != "" {
			logger.Warn("ignoring invalid websocket origin", "origin", o)
		}
	}
	if len(s.origins) == 0 {
		s.anyOrig = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func (s *HubSockets) checkOrigin(r *http.Request) bool {
	if s.anyOrig {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no Origin
		return true
	}
	norm, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := s.origins[norm]
	return allowed
}

// Dispatch queues an event frame. An empty target reaches every socket of
// hub held by this process; an unknown target is ignored.
func (s *HubSockets) Dispatch(_ context.Context, hub, method, target string, args []byte) error {
	frame, err := json.Marshal(Frame{Type: FrameEvent, Hub: hub, Method: method, Args: args})
	if err != nil {
		return err
	}
	if target != "" {
		return s.enqueue(target, frame)
	}
	var errs []error
	for _, id := range s.members.Members(strings.ToLower(hub)) {
		errs = append(errs, s.enqueue(id, frame))
	}
	return errors.Join(errs...)
}

var _ hubs.Transport = (*HubSockets)(nil)

func (s *HubSockets) enqueue(id string, frame []byte) error {
	v, ok := s.clients.Load(id)
	if !ok {
		return nil
	}
	c := v.(*hubClient)
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrSendBufferFull, id)
	}
}

// Count returns the number of open sockets
func (s *HubSockets) Count() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CloseAll asks every socket to close. Each socket's reader then runs the
// hub's disconnect path.
func (s *HubSockets) CloseAll() {
	s.clients.Range(func(_, v any) bool {
		v.(*hubClient).close()
		return true
	})
}

// Serve registers a connection on hub, upgrades the request and pumps
// frames until either side closes
func (s *HubSockets) Serve(w http.ResponseWriter, req *http.Request, hub string, host HubHost) {
	id, err := host.HubConnect(req.Context(), hub)
	if err != nil {
		if errors.Is(err, hubs.ErrHubNotFound) {
			config.RespondNotFound(w, fmt.Sprintf("Hub '%s' not found", hub))
			return
		}
		config.RespondError(w, http.StatusForbidden, "Hub connection rejected", "", s.logger)
		return
	}

	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// the upgrader has already answered the request
		s.logger.Warn("websocket upgrade failed", "hub", hub, "connection_id", id, "error", err)
		_ = host.HubDisconnect(context.WithoutCancel(req.Context()), hub, id)
		return
	}

	c := &hubClient{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, s.config.BufferSize),
		done: make(chan struct{}),
	}
	s.members.Add(strings.ToLower(hub), id)
	s.clients.Store(id, c)
	s.logger.Info("hub socket opened", "hub", hub, "connection_id", id, "remote_addr", req.RemoteAddr)

	ctx, cancel := context.WithCancel(context.WithoutCancel(req.Context()))
	go s.writePump(c)
	s.readPump(ctx, c, host)
	cancel()

	c.close()
	s.clients.Delete(id)
	s.members.Remove(strings.ToLower(hub), id)

	disconnectCtx, stop := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer stop()
	if err := host.HubDisconnect(disconnectCtx, hub, id); err != nil {
		s.logger.Warn("hub disconnect failed", "hub", hub, "connection_id", id, "error", err)
	}
	s.logger.Info("hub socket closed", "hub", hub, "connection_id", id)
}

func (s *HubSockets) readPump(ctx context.Context, c *hubClient, host HubHost) {
	pongWait := s.config.PingInterval * 10 / 9
	c.conn.SetReadLimit(s.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// unblocks ReadMessage when the socket is closed from our side
	go func() {
		<-c.done
		_ = c.conn.SetReadDeadline(time.Now())
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			s.logReadError(c, err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var in Frame
		if err := json.Unmarshal(raw, &in); err != nil {
			s.reply(c, Frame{Type: FrameCompletion, Error: "invalid frame"})
			continue
		}
		if in.Type != "" && in.Type != FrameInvoke {
			s.reply(c, Frame{Type: FrameCompletion, ID: in.ID, Error: fmt.Sprintf("unsupported frame type '%s'", in.Type)})
			continue
		}

		out := Frame{Type: FrameCompletion, ID: in.ID}
		completion(&out, host.HubInvoke(ctx, c.hub, in.Method, c.id, in.Args))
		s.reply(c, out)
	}
}

// completion folds a hub invocation payload into a completion frame
func completion(out *Frame, payload []byte) {
	if payload == nil {
		return
	}
	var res struct {
		Result jsoniter.RawMessage `json:"result"`
		Error  *string             `json:"error"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		out.Error = "result not decodable"
		return
	}
	if res.Error != nil {
		out.Error = *res.Error
		return
	}
	out.Result = res.Result
}

func (s *HubSockets) reply(c *hubClient, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		s.logger.Error("completion frame not encodable", "connection_id", c.id, "error", err)
		return
	}
	if err := s.enqueue(c.id, b); err != nil {
		s.logger.Warn("completion dropped", "connection_id", c.id, "error", err)
	}
}

func (s *HubSockets) logReadError(c *hubClient, err error) {
	select {
	case <-c.done:
		return
	default:
	}
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn("hub frame exceeded maximum size", "connection_id", c.id, "limit", s.config.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.logger.Debug("hub socket closed by client", "connection_id", c.id)
	case errors.Is(err, io.EOF), websocket.IsUnexpectedCloseError(err):
		s.logger.Debug("hub socket dropped", "connection_id", c.id, "error", err)
	default:
		s.logger.Warn("hub socket read error", "connection_id", c.id, "error", err)
	}
}

func (s *HubSockets) writePump(c *hubClient) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("hub socket write failed", "connection_id", c.id, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(s.config.WriteTimeout))
			return
		}
	}
}
