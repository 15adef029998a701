package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/di"
	"dispatch_engine/internal/routing"
)

type pageController struct {
	Controller
	closed *bool
}

func (p *pageController) Close() error {
	if p.closed != nil {
		*p.closed = true
	}
	return nil
}

func act(name string, fn func(c *pageController, ctx context.Context) (any, error), opts ...routing.ActionOption) routing.ActionDescriptor {
	return routing.Action(name, fn, opts...)
}

type recordingRenderer struct {
	view     ViewRef
	model    any
	viewData map[string]any
}

func (r *recordingRenderer) Render(_ context.Context, view ViewRef, model any, viewData map[string]any) (string, error) {
	r.view, r.model, r.viewData = view, model, viewData
	return fmt.Sprintf("<p>%s</p>", view), nil
}

func newDispatcher(t *testing.T, renderer ViewRenderer, dev bool, controllers ...*routing.ControllerDescriptor) *Dispatcher {
	t.Helper()
	return New(routing.Discover(nil, controllers...), &Config{Renderer: renderer, Development: dev})
}

func run(d *Dispatcher, method, path string) *RequestContext {
	rc := NewRequestContext(context.Background(), method, path)
	_ = d.Dispatch(rc.Context(), rc)
	return rc
}

func decodeError(t *testing.T, rc *RequestContext) config.ErrorResponse {
	t.Helper()
	var body config.ErrorResponse
	require.NoError(t, json.Unmarshal(rc.ResponseBody, &body))
	return body
}

func TestDispatch_PlainValueSerializedAsJSON(t *testing.T) {
	d := newDispatcher(t, nil, false, routing.Controller("ApiController", func() *pageController { return &pageController{} },
		act("Stats", func(c *pageController, ctx context.Context) (any, error) {
			return map[string]int{"count": 3}, nil
		}),
	))

	rc := run(d, http.MethodGet, "/api/stats")
	assert.Equal(t, http.StatusOK, rc.Status)
	assert.Equal(t, "application/json", rc.ContentType)
	assert.JSONEq(t, `{"count":3}`, string(rc.ResponseBody))
	require.NotNil(t, rc.Route)
	assert.Equal(t, "Stats", rc.Route.Action.Name)
}

func TestDispatch_RawMessagesPassThroughVerbatim(t *testing.T) {
	d := newDispatcher(t, nil, false, routing.Controller("ApiController", func() *pageController { return &pageController{} },
		act("Raw", func(c *pageController, ctx context.Context) (any, error) {
			return map[string]any{"payload": jsoniter.RawMessage(`{"n":1}`)}, nil
		}),
		act("Wrapped", func(c *pageController, ctx context.Context) (any, error) {
			return c.JSON(jsoniter.RawMessage(`[1,2]`)), nil
		}),
	))

	rc := run(d, http.MethodGet, "/api/raw")
	assert.JSONEq(t, `{"payload":{"n":1}}`, string(rc.ResponseBody))

	rc = run(d, http.MethodGet, "/api/wrapped")
	assert.JSONEq(t, `[1,2]`, string(rc.ResponseBody))
}

func TestDispatch_NoReturnValueIs204(t *testing.T) {
	d := newDispatcher(t, nil, false, routing.Controller("ApiController", func() *pageController { return &pageController{} },
		act("Ping", func(c *pageController, ctx context.Context) (any, error) { return nil, nil }),
	))

	rc := run(d, http.MethodPost, "/api/ping")
	assert.Equal(t, http.StatusNoContent, rc.Status)
	assert.Empty(t, rc.ResponseBody)
}

func TestDispatch_ViewDefaults(t *testing.T) {
	renderer := &recordingRenderer{}
	d := newDispatcher(t, renderer, false, routing.Controller("PostsController", func() *pageController { return &pageController{} },
		act("Index", func(c *pageController, ctx context.Context) (any, error) {
			c.ViewData["title"] = "Posts"
			return c.View([]string{"a", "b"}), nil
		}),
	).InArea("Admin"))

	rc := NewRequestContext(context.Background(), http.MethodGet, "/admin/posts")
	rc.Items["user"] = "ada"
	require.NoError(t, d.Dispatch(rc.Context(), rc))

	assert.Equal(t, http.StatusOK, rc.Status)
	assert.Equal(t, "text/html; charset=utf-8", rc.ContentType)
	assert.Equal(t, ViewRef{Area: "Admin", Controller: "Posts", Name: "Index"}, renderer.view)
	assert.Equal(t, []string{"a", "b"}, renderer.model)
	assert.Equal(t, "ada", renderer.viewData["user"])
	assert.Equal(t, "Posts", renderer.viewData["title"])
	assert.Equal(t, "<p>Admin/Posts/Index</p>", string(rc.ResponseBody))
}

func TestDispatch_ExplicitViewNameKept(t *testing.T) {
	renderer := &recordingRenderer{}
	d := newDispatcher(t, renderer, false, routing.Controller("HomeController", func() *pageController { return &pageController{} },
		act("Index", func(c *pageController, ctx context.Context) (any, error) {
			return c.PartialView("_Summary", nil), nil
		}),
	))

	run(d, http.MethodGet, "/")
	assert.Equal(t, ViewRef{Controller: "Home", Name: "_Summary", Partial: true}, renderer.view)
}

func TestDispatch_ViewWithoutRendererFails(t *testing.T) {
	d := newDispatcher(t, nil, false, routing.Controller("HomeController", func() *pageController { return &pageController{} },
		act("Index", func(c *pageController, ctx context.Context) (any, error) { return c.View(nil), nil }),
	))

	rc := run(d, http.MethodGet, "/home/index")
	assert.Equal(t, http.StatusInternalServerError, rc.Status)
	assert.Contains(t, decodeError(t, rc).Message, ErrNoRenderer.Error())
}

func TestDispatch_ActionResults(t *testing.T) {
	d := newDispatcher(t, nil, false, routing.Controller("HomeController", func() *pageController { return &pageController{} },
		act("Go", func(c *pageController, ctx context.Context) (any, error) { return c.Redirect("/home/index"), nil }),
		act("Text", func(c *pageController, ctx context.Context) (any, error) { return c.Content("hi", ""), nil }),
		act("Missing", func(c *pageController, ctx context.Context) (any, error) { return c.NotFound(), nil }),
		act("Data", func(c *pageController, ctx context.Context) (any, error) { return c.JSON([]int{1}), nil }),
	))

	rc := run(d, http.MethodGet, "/home/go")
	assert.Equal(t, http.StatusFound, rc.Status)
	assert.Equal(t, "/home/index", rc.ResponseHeader.Get("Location"))

	rc = run(d, http.MethodGet, "/home/text")
	assert.Equal(t, "text/plain; charset=utf-8", rc.ContentType)
	assert.Equal(t, "hi", string(rc.ResponseBody))

	rc = run(d, http.MethodGet, "/home/missing")
	assert.Equal(t, http.StatusNotFound, rc.Status)

	rc = run(d, http.MethodGet, "/home/data")
	assert.JSONEq(t, `[1]`, string(rc.ResponseBody))
}

func TestDispatch_FormInjected(t *testing.T) {
	d := newDispatcher(t, nil, false, routing.Controller("FormController", func() *pageController { return &pageController{} },
		act("Submit", func(c *pageController, ctx context.Context) (any, error) {
			return map[string]string{"name": c.Form.Get("name")}, nil
		}),
	))

	rc := NewRequestContext(context.Background(), http.MethodPost, "/form/submit")
	rc.Form.Set("name", "grace")
	d.Dispatch(rc.Context(), rc)
	assert.JSONEq(t, `{"name":"grace"}`, string(rc.ResponseBody))
}

func TestDispatch_Awaitable(t *testing.T) {
	d := newDispatcher(t, nil, false, routing.Controller("JobsController", func() *pageController { return &pageController{} },
		act("Run", func(c *pageController, ctx context.Context) (any, error) {
			return Async(ctx, func(context.Context) (any, error) {
				time.Sleep(5 * time.Millisecond)
				return "done", nil
			}), nil
		}),
		act("Explode", func(c *pageController, ctx context.Context) (any, error) {
			return Async(ctx, func(context.Context) (any, error) { panic("async boom") }), nil
		}),
	))

	rc := run(d, http.MethodGet, "/jobs/run")
	assert.Equal(t, http.StatusOK, rc.Status)
	assert.Equal(t, `"done"`, string(rc.ResponseBody))

	rc = run(d, http.MethodGet, "/jobs/explode")
	assert.Equal(t, http.StatusInternalServerError, rc.Status)
	assert.Contains(t, decodeError(t, rc).Message, "async boom")
}

func TestDispatch_NotFoundEchoesPath(t *testing.T) {
	d := newDispatcher(t, nil, false)
	rc := run(d, http.MethodGet, "/nowhere")
	assert.Equal(t, http.StatusNotFound, rc.Status)
	assert.Contains(t, decodeError(t, rc).Message, "/nowhere")
}

func TestDispatch_FaultsBecome500(t *testing.T) {
	closed := false
	d := newDispatcher(t, nil, true, routing.Controller("FaultController", func() *pageController { return &pageController{closed: &closed} },
		act("Error", func(c *pageController, ctx context.Context) (any, error) { return nil, errors.New("db down") }),
		act("Panic", func(c *pageController, ctx context.Context) (any, error) { panic("nil map") }),
	))

	rc := run(d, http.MethodGet, "/fault/error")
	assert.Equal(t, http.StatusInternalServerError, rc.Status)
	body := decodeError(t, rc)
	assert.Equal(t, "db down", body.Message)
	assert.NotEmpty(t, body.Details, "development mode includes a stack trace")
	assert.True(t, closed, "handler disposed after a returned error")

	closed = false
	rc = run(d, http.MethodGet, "/fault/panic")
	assert.Equal(t, http.StatusInternalServerError, rc.Status)
	body = decodeError(t, rc)
	assert.Contains(t, body.Message, "nil map")
	assert.Contains(t, body.Details, "goroutine")
	assert.True(t, closed, "handler disposed after a panic")
}

func TestDispatch_ProductionHidesStack(t *testing.T) {
	d := newDispatcher(t, nil, false, routing.Controller("FaultController", func() *pageController { return &pageController{} },
		act("Error", func(c *pageController, ctx context.Context) (any, error) { return nil, errors.New("db down") }),
	))
	rc := run(d, http.MethodGet, "/fault/error")
	assert.Empty(t, decodeError(t, rc).Details)
}

func TestDispatch_PrefersScopedResolver(t *testing.T) {
	ctrl := routing.Controller("HomeController", func() *pageController { return &pageController{} },
		act("Index", func(c *pageController, ctx context.Context) (any, error) {
			return c.Request.Items["source"], nil
		}),
	)
	container := di.NewContainer(nil)
	container.Register(ctrl.Key(), di.Scoped, func(di.Resolver) (any, error) {
		return &pageController{}, nil
	})
	d := newDispatcher(t, nil, false, ctrl)

	scope := container.NewScope()
	defer scope.Close()

	rc := NewRequestContext(context.Background(), http.MethodGet, "/")
	rc.Resolver = scope
	rc.Items["source"] = "scope"
	d.Dispatch(rc.Context(), rc)
	assert.Equal(t, `"scope"`, string(rc.ResponseBody))
}

func TestDispatch_ResolverFailureIs500(t *testing.T) {
	ctrl := routing.Controller("HomeController", func() *pageController { return &pageController{} },
		act("Index", func(c *pageController, ctx context.Context) (any, error) { return "x", nil }),
	)
	container := di.NewContainer(nil)
	container.Register(ctrl.Key(), di.Transient, func(di.Resolver) (any, error) {
		return nil, errors.New("no connection")
	})
	d := newDispatcher(t, nil, false, ctrl)

	rc := NewRequestContext(context.Background(), http.MethodGet, "/")
	rc.Resolver = container
	d.Dispatch(rc.Context(), rc)
	assert.Equal(t, http.StatusInternalServerError, rc.Status)
}

func TestDispatch_Reload(t *testing.T) {
	d := newDispatcher(t, nil, false)
	assert.Equal(t, http.StatusNotFound, run(d, http.MethodGet, "/blog").Status)

	d.Reload(routing.Discover(nil, routing.Controller("BlogController", func() *pageController { return &pageController{} },
		act("Index", func(c *pageController, ctx context.Context) (any, error) { return "blog", nil }),
	)))
	assert.Equal(t, http.StatusOK, run(d, http.MethodGet, "/blog").Status)
}
