package dispatch

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ActionResult is a handler outcome that knows how to write itself
type ActionResult interface {
	Execute(ctx context.Context, rc *RequestContext) error
}

// Awaitable is a deferred handler outcome. The dispatcher waits for it
// before interpreting the result.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// ViewRef identifies a view for the renderer
type ViewRef struct {
	Area       string
	Controller string
	Name       string
	Partial    bool
}

func (v ViewRef) String() string {
	parts := make([]string, 0, 3)
	if v.Area != "" {
		parts = append(parts, v.Area)
	}
	parts = append(parts, v.Controller, v.Name)
	return strings.Join(parts, "/")
}

// ViewRenderer renders markup. Implementations are supplied by the host.
type ViewRenderer interface {
	Render(ctx context.Context, view ViewRef, model any, viewData map[string]any) (string, error)
}

// ViewRendererFunc adapts a function to ViewRenderer
type ViewRendererFunc func(ctx context.Context, view ViewRef, model any, viewData map[string]any) (string, error)

func (f ViewRendererFunc) Render(ctx context.Context, view ViewRef, model any, viewData map[string]any) (string, error) {
	return f(ctx, view, model, viewData)
}

// ErrNoRenderer is returned when a view result is produced without a renderer
var ErrNoRenderer = errors.New("no view renderer configured")

// ViewResult renders a (partial) view. Empty ViewName, Controller and Area
// default to the current action, controller and area.
type ViewResult struct {
	ViewName   string
	Controller string
	Area       string
	Model      any
	ViewData   map[string]any
	Partial    bool
	Status     int
}

// Ref returns the view identifier
func (v *ViewResult) Ref() ViewRef {
	return ViewRef{Area: v.Area, Controller: v.Controller, Name: v.ViewName, Partial: v.Partial}
}

// RedirectResult sends the client elsewhere
type RedirectResult struct {
	URL       string
	Permanent bool
}

func (r *RedirectResult) Execute(_ context.Context, rc *RequestContext) error {
	status := http.StatusFound
	if r.Permanent {
		status = http.StatusMovedPermanently
	}
	if rc.ResponseHeader == nil {
		rc.ResponseHeader = make(http.Header)
	}
	rc.ResponseHeader.Set("Location", r.URL)
	rc.SetResponse(status, "", nil)
	return nil
}

// ContentResult writes raw content
type ContentResult struct {
	Content     string
	ContentType string
	Status      int
}

func (r *ContentResult) Execute(_ context.Context, rc *RequestContext) error {
	ct := r.ContentType
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	rc.SetResponse(status, ct, []byte(r.Content))
	return nil
}

// StatusResult writes a status code with an empty body
type StatusResult struct {
	Status int
}

func (r *StatusResult) Execute(_ context.Context, rc *RequestContext) error {
	rc.SetResponse(r.Status, "", nil)
	return nil
}

// JSONResult writes structured data
type JSONResult struct {
	Data   any
	Status int
}

func (r *JSONResult) Execute(_ context.Context, rc *RequestContext) error {
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	body, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	rc.SetResponse(status, "application/json", body)
	return nil
}

// Future is an Awaitable backed by a goroutine
type Future struct {
	done   chan struct{}
	result any
	err    error
}

// Async starts fn in its own goroutine and returns a Future for its result
func Async(ctx context.Context, fn func(ctx context.Context) (any, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = &PanicError{Value: r}
			}
		}()
		f.result, f.err = fn(ctx)
	}()
	return f
}

// Await blocks until the future completes or ctx is done
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
