package routing

import (
	"log/slog"
	"sort"
)

// Table maps normalized paths to routes. It is immutable once built, so
// lookups need no synchronization.
type Table struct {
	routes map[string]*Route
	first  *Route
}

// Lookup returns the route registered under the normalized form of p
func (t *Table) Lookup(p string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	r, ok := t.routes[Normalize(p)]
	return r, ok
}

// First returns the first route ever registered, in scan order
func (t *Table) First() (*Route, bool) {
	if t == nil || t.first == nil {
		return nil, false
	}
	return t.first, true
}

// Len returns the number of distinct paths
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Routes returns all routes ordered by the scan position of their last registration
func (t *Table) Routes() []*Route {
	if t == nil {
		return nil
	}
	out := make([]*Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Builder accumulates routes before freezing them into a Table
type Builder struct {
	routes map[string]*Route
	first  *Route
	seq    int
	logger *slog.Logger
}

// NewBuilder creates an empty route builder
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		routes: make(map[string]*Route),
		logger: logger,
	}
}

// Add inserts a route under its normalized path. A colliding path is
// overwritten by the later registration.
func (b *Builder) Add(r *Route) {
	r.Path = Normalize(r.Path)
	r.order = b.seq
	b.seq++

	if prev, exists := b.routes[r.Path]; exists {
		b.logger.Debug("route overwritten",
			"path", r.Path,
			"previous", prev.Controller.Name+"."+prev.Action.Name,
			"current", r.Controller.Name+"."+r.Action.Name,
		)
	}
	b.routes[r.Path] = r

	if b.first == nil {
		b.first = r
	}
}

// Build freezes the builder into a Table. The builder must not be reused.
func (b *Builder) Build() *Table {
	t := &Table{routes: b.routes}
	if b.first != nil {
		// the first path may have been overwritten; point at its current owner
		t.first = b.routes[b.first.Path]
	}
	b.routes = nil
	return t
}
