package dispatch

import (
	"context"
	"net/http"
	"net/url"

	jsoniter "github.com/json-iterator/go"

	"dispatch_engine/internal/di"
	"dispatch_engine/internal/routing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RequestContext carries one request through the pipeline and the
// dispatcher. It is owned by a single request and never shared.
type RequestContext struct {
	// Request side
	Method  string
	Path    string
	Header  http.Header
	Query   url.Values
	Cookies map[string]string
	Form    url.Values
	Body    []byte

	// Response side
	Status         int
	ContentType    string
	ResponseBody   []byte
	ResponseHeader http.Header

	// Resolver is the request-scoped dependency resolver, if any
	Resolver di.Resolver

	// Items holds ambient view/session data visible to handlers and views
	Items map[string]any

	// Route is the matched route, set by the dispatcher
	Route *routing.Route

	ctx context.Context
}

// NewRequestContext creates an empty context for method and path
func NewRequestContext(ctx context.Context, method, path string) *RequestContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RequestContext{
		Method:         method,
		Path:           path,
		Header:         make(http.Header),
		Query:          make(url.Values),
		Cookies:        make(map[string]string),
		Form:           make(url.Values),
		ResponseHeader: make(http.Header),
		Items:          make(map[string]any),
		ctx:            ctx,
	}
}

// Context returns the request's context.Context
func (rc *RequestContext) Context() context.Context {
	if rc.ctx == nil {
		return context.Background()
	}
	return rc.ctx
}

// WithContext replaces the request's context.Context
func (rc *RequestContext) WithContext(ctx context.Context) *RequestContext {
	rc.ctx = ctx
	return rc
}

// SetResponse sets status, content type and body in one step
func (rc *RequestContext) SetResponse(status int, contentType string, body []byte) {
	rc.Status = status
	rc.ContentType = contentType
	rc.ResponseBody = body
}

// WriteJSON serializes v as the response body
func (rc *RequestContext) WriteJSON(status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	rc.SetResponse(status, "application/json", body)
	return nil
}

// Item returns an ambient value by key
func (rc *RequestContext) Item(key string) (any, bool) {
	v, ok := rc.Items[key]
	return v, ok
}

// ContextBinder is implemented by handlers that accept per-request state
type ContextBinder interface {
	BindContext(rc *RequestContext)
}

// Controller can be embedded by handler types to receive per-request state
// and build results.
type Controller struct {
	Request  *RequestContext
	Form     url.Values
	ViewData map[string]any
}

// BindContext injects the request's form fields and ambient data
func (c *Controller) BindContext(rc *RequestContext) {
	c.Request = rc
	c.Form = rc.Form
	c.ViewData = rc.Items
}

// View renders the action's default view with model
func (c *Controller) View(model any) *ViewResult {
	return &ViewResult{Model: model}
}

// ViewNamed renders a specific view with model
func (c *Controller) ViewNamed(name string, model any) *ViewResult {
	return &ViewResult{ViewName: name, Model: model}
}

// PartialView renders a view without layout
func (c *Controller) PartialView(name string, model any) *ViewResult {
	return &ViewResult{ViewName: name, Model: model, Partial: true}
}

// Redirect sends a 302 to target
func (c *Controller) Redirect(target string) *RedirectResult {
	return &RedirectResult{URL: target}
}

// Content returns raw content
func (c *Controller) Content(content, contentType string) *ContentResult {
	return &ContentResult{Content: content, ContentType: contentType}
}

// JSON returns structured data with status 200
func (c *Controller) JSON(data any) *JSONResult {
	return &JSONResult{Data: data}
}

// OK returns an empty 200
func (c *Controller) OK() *StatusResult { return &StatusResult{Status: http.StatusOK} }

// NotFound returns an empty 404
func (c *Controller) NotFound() *StatusResult { return &StatusResult{Status: http.StatusNotFound} }
