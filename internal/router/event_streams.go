package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/stream"
)

// ConnectedEvent is the first event on every stream; its data carries the
// connection id the client can reconnect with
const ConnectedEvent = "connected"

// ErrStreamBufferFull is returned when a stream's outbound queue is full
var ErrStreamBufferFull = errors.New("event stream buffer full")

// StreamHost is the event-stream side of the engine
type StreamHost interface {
	SseConnect(connectionID, path string) *stream.Connection
	SseDisconnect(connectionID string) bool
	SseSubscribe(connectionID, channel string) bool
	SseTouch(connectionID string) bool
}

// EventStreamsConfig configures the event-stream endpoint
type EventStreamsConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// BufferSize of each stream's outbound queue
	BufferSize int

	// WriteTimeout bounds each event write
	WriteTimeout time.Duration
}

// EventStreams holds the open event streams of this process. It implements
// stream.Sender.
type EventStreams struct {
	logger       *slog.Logger
	bufferSize   int
	writeTimeout time.Duration

	clients sync.Map // connection id -> *streamClient
}

type sseEvent struct {
	name string
	data []byte
}

type streamClient struct {
	events    chan sseEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (c *streamClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// NewEventStreams creates an empty stream table
func NewEventStreams(cfg *EventStreamsConfig) *EventStreams {
	if cfg == nil {
		cfg = &EventStreamsConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 64
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EventStreams{logger: logger, bufferSize: size, writeTimeout: timeout}
}

// Send queues one event. Unknown ids are ignored.
func (s *EventStreams) Send(_ context.Context, connectionID, event string, data []byte) error {
	v, ok := s.clients.Load(connectionID)
	if !ok {
		return nil
	}
	c := v.(*streamClient)
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.events <- sseEvent{name: event, data: data}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrStreamBufferFull, connectionID)
	}
}

var _ stream.Sender = (*EventStreams)(nil)

// Count returns the number of open streams
func (s *EventStreams) Count() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CloseAll ends every open stream
func (s *EventStreams) CloseAll() {
	s.clients.Range(func(_, v any) bool {
		v.(*streamClient).close()
		return true
	})
}

// Serve holds an event stream open for path. The client may pass ?id= to
// resume under a previous connection id that is no longer open (an open id
// answers 409) and repeat ?channel= to subscribe to more channels.
func (s *EventStreams) Serve(w http.ResponseWriter, req *http.Request, path string, host StreamHost) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		config.RespondError(w, http.StatusInternalServerError, "Streaming unsupported", "", s.logger)
		return
	}

	id := req.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}

	c := &streamClient{
		events: make(chan sseEvent, s.bufferSize),
		done:   make(chan struct{}),
	}
	// only ids that are not open can be resumed
	if _, loaded := s.clients.LoadOrStore(id, c); loaded {
		s.logger.Warn("event stream id already open", "connection_id", id)
		config.RespondError(w, http.StatusConflict, "Stream id already in use", "", nil)
		return
	}

	conn := host.SseConnect(id, path)
	for _, ch := range req.URL.Query()["channel"] {
		if ch != "" {
			host.SseSubscribe(id, ch)
		}
	}
	defer func() {
		// the id becomes resumable only after the engine has let it go
		host.SseDisconnect(id)
		s.clients.Delete(id)
		s.logger.Info("event stream closed", "connection_id", id)
	}()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	hello, _ := json.Marshal(map[string]any{"connectionId": id, "channels": conn.Channels()})
	if err := s.write(w, rc, ConnectedEvent, hello); err != nil {
		return
	}
	flusher.Flush()
	s.logger.Info("event stream opened", "connection_id", id, "path", path, "channel", conn.Channel)

	for {
		select {
		case ev := <-c.events:
			if err := s.write(w, rc, ev.name, ev.data); err != nil {
				s.logger.Debug("event stream write failed", "connection_id", id, "error", err)
				return
			}
			flusher.Flush()
			host.SseTouch(id)
		case <-c.done:
			return
		case <-req.Context().Done():
			return
		}
	}
}

func (s *EventStreams) write(w http.ResponseWriter, rc *http.ResponseController, event string, data []byte) error {
	// not every writer supports deadlines
	_ = rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_, err := w.Write(formatEvent(event, data))
	return err
}

// formatEvent renders one text/event-stream record. Multi-line data is
// split across data fields.
func formatEvent(event string, data []byte) []byte {
	var b bytes.Buffer
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		b.WriteString("data: ")
		b.Write(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}
