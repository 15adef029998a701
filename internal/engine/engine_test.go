package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch_engine/internal/backplane"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/hubs"
	"dispatch_engine/internal/middlewares"
	"dispatch_engine/internal/routing"
	"dispatch_engine/internal/stream"
)

type statusController struct {
	dispatch.Controller
}

type roomHub struct {
	hubs.Hub
}

type hubEvent struct {
	method string
	target string
	args   string
}

type hubSink struct {
	mu     sync.Mutex
	events []hubEvent
}

func (s *hubSink) Dispatch(_ context.Context, _, method, target string, args []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, hubEvent{method: method, target: target, args: string(args)})
	return nil
}

func (s *hubSink) snapshot() []hubEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hubEvent(nil), s.events...)
}

type streamSink struct {
	mu     sync.Mutex
	events map[string][]string
}

func (s *streamSink) Send(_ context.Context, id, event string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[string][]string)
	}
	s.events[id] = append(s.events[id], event+" "+string(data))
	return nil
}

func (s *streamSink) of(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events[id]...)
}

func newDispatcher() *dispatch.Dispatcher {
	table := routing.Discover(nil,
		routing.Controller("StatusController", func() *statusController { return &statusController{} },
			routing.Action("Index", func(c *statusController, _ context.Context) (any, error) {
				return c.JSON(map[string]string{"status": "up"}), nil
			}),
		),
	)
	return dispatch.New(table, nil)
}

func roomDefinition() *hubs.Definition {
	return hubs.Define("Room", func() *roomHub { return &roomHub{} },
		hubs.Func1("Echo", func(h *roomHub, _ context.Context, s string) (string, error) { return s, nil }),
		hubs.Action1("Say", func(h *roomHub, ctx context.Context, s string) error {
			h.Clients.All().Send(ctx, "said", s)
			return nil
		}),
	)
}

func TestNew_RequiresDispatcher(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoDispatcher)
	_, err = New(&Config{})
	assert.ErrorIs(t, err, ErrNoDispatcher)
}

func TestProcessRequest_RunsPipelineThenDispatcher(t *testing.T) {
	var order []string
	trace := func(name string) middlewares.Middleware {
		return func(next middlewares.Handler) middlewares.Handler {
			return func(ctx context.Context, rc *dispatch.RequestContext) error {
				order = append(order, name)
				return next(ctx, rc)
			}
		}
	}

	e, err := New(&Config{
		Dispatcher: newDispatcher(),
		Pipeline:   middlewares.NewPipeline(trace("outer"), trace("inner")),
	})
	require.NoError(t, err)

	rc := dispatch.NewRequestContext(context.Background(), http.MethodGet, "/status")
	require.NoError(t, e.ProcessRequest(rc.Context(), rc))

	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, http.StatusOK, rc.Status)
	assert.JSONEq(t, `{"status":"up"}`, string(rc.ResponseBody))
}

func TestProcessRequest_EscapedErrorBecomes500(t *testing.T) {
	failing := func(next middlewares.Handler) middlewares.Handler {
		return func(context.Context, *dispatch.RequestContext) error {
			return errors.New("session store down")
		}
	}
	e, err := New(&Config{Dispatcher: newDispatcher(), Pipeline: middlewares.NewPipeline(failing)})
	require.NoError(t, err)

	rc := dispatch.NewRequestContext(context.Background(), http.MethodGet, "/status")
	err = e.ProcessRequest(context.Background(), rc)
	assert.EqualError(t, err, "session store down")
	assert.Equal(t, http.StatusInternalServerError, rc.Status)
	assert.Equal(t, "application/json", rc.ContentType)
	assert.NotContains(t, string(rc.ResponseBody), "session store down")
}

func TestHubOperations(t *testing.T) {
	sink := &hubSink{}
	e, err := New(&Config{
		Dispatcher:   newDispatcher(),
		Hubs:         hubs.NewRegistry(nil, roomDefinition()),
		HubTransport: sink,
	})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := e.HubConnect(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, e.Hubs().Connections("Room"))

	assert.JSONEq(t, `{"result":"hi"}`, string(e.HubInvoke(ctx, "Room", "Echo", id, []byte(`["hi"]`))))
	assert.Nil(t, e.HubInvoke(ctx, "Room", "Say", id, []byte(`["yo"]`)))
	assert.Equal(t, []hubEvent{{method: "said", target: "", args: `["yo"]`}}, sink.snapshot())

	require.NoError(t, e.HubDisconnect(ctx, "Room", id))
	assert.Empty(t, e.Hubs().Connections("Room"))
	require.NoError(t, e.HubDisconnect(ctx, "Room", id))

	_, err = e.HubConnect(ctx, "Lobby")
	assert.ErrorIs(t, err, hubs.ErrHubNotFound)
}

func TestSseOperations(t *testing.T) {
	sink := &streamSink{}
	e, err := New(&Config{Dispatcher: newDispatcher(), StreamSender: sink})
	require.NoError(t, err)

	conn := e.SseConnect("c1", "/News/Sports")
	assert.Equal(t, "news.sports", conn.Channel)
	assert.True(t, e.SseTouch("c1"))

	assert.Equal(t, 1, e.Events().SendToChannel(context.Background(), "news.sports", "score", map[string]int{"home": 2}))
	assert.Equal(t, []string{`score {"home":2}`}, sink.of("c1"))

	assert.True(t, e.SseDisconnect("c1"))
	assert.False(t, e.SseDisconnect("c1"))
	assert.Zero(t, e.Streams().Count())
}

func TestBackplane_RelaysBetweenEngines(t *testing.T) {
	broker := backplane.NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	build := func(hubSink *hubSink, streamSink *streamSink) *Engine {
		e, err := New(&Config{
			Dispatcher:   newDispatcher(),
			Hubs:         hubs.NewRegistry(nil, roomDefinition()),
			HubTransport: hubSink,
			StreamSender: streamSink,
			Broker:       broker,
		})
		require.NoError(t, err)
		require.NoError(t, e.Start(ctx))
		t.Cleanup(func() { _ = e.Close(context.Background()) })
		return e
	}

	hubA, hubB := &hubSink{}, &hubSink{}
	streamA, streamB := &streamSink{}, &streamSink{}
	a := build(hubA, streamA)
	b := build(hubB, streamB)

	b.SseConnect("remote", "/feed")

	id, err := a.HubConnect(ctx, "Room")
	require.NoError(t, err)
	a.HubInvoke(ctx, "Room", "Say", id, []byte(`["across"]`))
	a.Events().Broadcast(ctx, "notice", "deploy")

	assert.Eventually(t, func() bool {
		return len(hubB.snapshot()) == 1 && len(streamB.of("remote")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "said", hubB.snapshot()[0].method)
	assert.Equal(t, []string{`notice "deploy"`}, streamB.of("remote"))
	assert.Len(t, hubA.snapshot(), 1)
}

func TestClose_DropsStreams(t *testing.T) {
	e, err := New(&Config{Dispatcher: newDispatcher(), Streams: stream.NewManager(nil)})
	require.NoError(t, err)
	e.SseConnect("a", "/")
	e.SseConnect("b", "/x")

	require.NoError(t, e.Close(context.Background()))
	assert.Zero(t, e.Streams().Count())
	assert.Equal(t, "engine", e.Name())
}
