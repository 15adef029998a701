package middlewares

import (
	"context"

	jsoniter "github.com/json-iterator/go"

	"dispatch_engine/internal/dispatch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler processes one request. It is the pipeline counterpart of
// http.Handler.
type Handler func(ctx context.Context, rc *dispatch.RequestContext) error

// Middleware wraps the next stage of the pipeline
type Middleware func(next Handler) Handler

// Skipper reports whether a middleware should pass the request straight through
type Skipper func(rc *dispatch.RequestContext) bool

// Pipeline is an ordered list of interceptors around a terminal handler
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates a pipeline with the given interceptors in order
func NewPipeline(middlewares ...Middleware) *Pipeline {
	p := &Pipeline{}
	return p.Use(middlewares...)
}

// Use appends interceptors. The first one registered runs outermost.
func (p *Pipeline) Use(middlewares ...Middleware) *Pipeline {
	for _, m := range middlewares {
		if m != nil {
			p.middlewares = append(p.middlewares, m)
		}
	}
	return p
}

// Len returns the number of registered interceptors
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Build composes the interceptors around terminal, folding from the last
// registered to the first. An empty pipeline returns terminal unchanged.
func (p *Pipeline) Build(terminal Handler) Handler {
	h := terminal
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		h = p.middlewares[i](h)
	}
	return h
}

