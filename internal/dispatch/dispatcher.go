package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/observability"
	"dispatch_engine/internal/routing"
)

// PanicError wraps a value recovered from a panicking handler
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Config holds dispatcher configuration
type Config struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Renderer executes view results
	Renderer ViewRenderer

	// Development adds stack traces to 500 bodies
	Development bool

	// Resolvers overrides the fallback order (default: routing.DefaultResolvers)
	Resolvers []routing.Resolver

	// Metrics is optional
	Metrics *observability.EngineMetrics
}

// Dispatcher resolves a request path to a handler action, invokes it and
// writes the outcome into the RequestContext. It never returns a fault to
// its caller; every failure becomes a 404 or 500 response.
type Dispatcher struct {
	table     atomic.Pointer[routing.Table]
	logger    *slog.Logger
	renderer  ViewRenderer
	dev       bool
	resolvers []routing.Resolver
	metrics   *observability.EngineMetrics
}

// New creates a dispatcher over table
func New(table *routing.Table, cfg *Config) *Dispatcher {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		logger:    logger,
		renderer:  cfg.Renderer,
		dev:       cfg.Development,
		resolvers: cfg.Resolvers,
		metrics:   cfg.Metrics,
	}
	d.table.Store(table)
	return d
}

// Table returns the active route table
func (d *Dispatcher) Table() *routing.Table {
	return d.table.Load()
}

// Reload swaps in a freshly discovered table. In-flight requests keep the
// table they started with.
func (d *Dispatcher) Reload(table *routing.Table) {
	d.table.Store(table)
	d.logger.Info("route table reloaded", "routes", table.Len())
}

// Dispatch processes rc. The error return exists so Dispatch can terminate
// a middleware pipeline; it is always nil.
func (d *Dispatcher) Dispatch(ctx context.Context, rc *RequestContext) (err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		d.metrics.ObserveDispatch(outcome, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			outcome = "error"
			d.fail(rc, &PanicError{Value: r, Stack: debug.Stack()})
		}
		err = nil
	}()

	route, rerr := routing.Resolve(rc.Path, d.Table(), d.resolvers)
	if rerr != nil {
		outcome = "not_found"
		d.logger.Debug("route not resolved", "method", rc.Method, "path", rc.Path)
		d.writeError(rc, http.StatusNotFound, rerr.Error(), "")
		return nil
	}
	rc.Route = route

	handler, owned, cerr := d.construct(rc, route)
	if cerr != nil {
		outcome = "error"
		d.fail(rc, errors.WithStack(cerr))
		return nil
	}
	if owned {
		if c, ok := handler.(io.Closer); ok {
			defer func() {
				if err := c.Close(); err != nil {
					d.logger.Warn("handler dispose failed", "controller", route.Controller.Name, "error", err)
				}
			}()
		}
	}

	if b, ok := handler.(ContextBinder); ok {
		b.BindContext(rc)
	}

	result, ierr := route.Action.Invoke(ctx, handler)
	if ierr == nil {
		if aw, ok := result.(Awaitable); ok {
			result, ierr = aw.Await(ctx)
		}
	}
	if ierr != nil {
		outcome = "error"
		d.fail(rc, errors.WithStack(ierr))
		return nil
	}

	if werr := d.interpret(ctx, rc, route, result); werr != nil {
		outcome = "error"
		d.fail(rc, errors.WithStack(werr))
	}
	return nil
}

// construct prefers the request's resolver and falls back to the
// descriptor's factory. owned reports whether the dispatcher must dispose
// the instance itself.
func (d *Dispatcher) construct(rc *RequestContext, route *routing.Route) (handler any, owned bool, err error) {
	key := route.Controller.Key()
	if rc.Resolver != nil && rc.Resolver.Has(key) {
		handler, err = rc.Resolver.Resolve(key)
		if err != nil {
			return nil, false, fmt.Errorf("resolve %s: %w", route.Controller.Name, err)
		}
		return handler, false, nil
	}
	if route.Controller.New == nil {
		return nil, false, fmt.Errorf("controller %s has no factory", route.Controller.Name)
	}
	return route.Controller.New(), true, nil
}

func (d *Dispatcher) interpret(ctx context.Context, rc *RequestContext, route *routing.Route, result any) error {
	switch r := result.(type) {
	case nil:
		rc.SetResponse(http.StatusNoContent, "", nil)
		return nil

	case *ViewResult:
		return d.renderView(ctx, rc, route, r)

	case ActionResult:
		return r.Execute(ctx, rc)

	default:
		body, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("serialize result: %w", err)
		}
		rc.SetResponse(http.StatusOK, "application/json", body)
		return nil
	}
}

func (d *Dispatcher) renderView(ctx context.Context, rc *RequestContext, route *routing.Route, v *ViewResult) error {
	if v.ViewName == "" {
		v.ViewName = route.Action.Name
	}
	if v.Controller == "" {
		v.Controller = route.Controller.ShortName()
	}
	if v.Area == "" {
		v.Area = route.Area
	}
	if d.renderer == nil {
		return ErrNoRenderer
	}

	viewData := make(map[string]any, len(rc.Items)+len(v.ViewData))
	for k, val := range rc.Items {
		viewData[k] = val
	}
	for k, val := range v.ViewData {
		viewData[k] = val
	}

	html, err := d.renderer.Render(ctx, v.Ref(), v.Model, viewData)
	if err != nil {
		return fmt.Errorf("render %s: %w", v.Ref(), err)
	}

	status := v.Status
	if status == 0 {
		status = http.StatusOK
	}
	rc.SetResponse(status, "text/html; charset=utf-8", []byte(html))
	return nil
}

func (d *Dispatcher) fail(rc *RequestContext, err error) {
	attrs := []any{"method", rc.Method, "path", rc.Path, "error", err.Error()}
	if rc.Route != nil {
		attrs = append(attrs, "controller", rc.Route.Controller.Name, "action", rc.Route.Action.Name)
	}
	d.logger.Error("handler fault", attrs...)

	stack := ""
	if d.dev {
		var pe *PanicError
		if errors.As(err, &pe) && pe.Stack != nil {
			stack = string(pe.Stack)
		} else {
			stack = fmt.Sprintf("%+v", err)
		}
	}
	d.writeError(rc, http.StatusInternalServerError, err.Error(), stack)
}

func (d *Dispatcher) writeError(rc *RequestContext, status int, message, details string) {
	body, _ := json.Marshal(config.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Details: details,
	})
	rc.ResponseHeader.Del("Location")
	rc.SetResponse(status, "application/json", body)
}
