package routing

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// ControllerSuffix is stripped from controller names when building paths
const ControllerSuffix = "Controller"

// Placeholders substituted inside route templates
const (
	PlaceholderArea       = "[area]"
	PlaceholderController = "[controller]"
	PlaceholderAction     = "[action]"
)

// InvokeFunc calls one action on a constructed handler instance
type InvokeFunc func(ctx context.Context, handler any) (any, error)

// VerbRoute is a verb-scoped declaration such as GET("edit/{id}")
// An empty Template only constrains the verb.
type VerbRoute struct {
	Method   string
	Template string
}

// ActionDescriptor describes one callable operation of a controller
type ActionDescriptor struct {
	Name      string
	Routes    []string    // explicit operation-level route templates
	Verbs     []VerbRoute // verb-scoped declarations
	NonAction bool        // registered but never routable
	Invoke    InvokeFunc
}

// ControllerDescriptor is the static registration record of a handler type
type ControllerDescriptor struct {
	// Name of the handler type, e.g. "BlogController"
	Name string

	// Area is an optional namespace prepended to conventional paths
	Area string

	// Routes are type-level route templates
	Routes []string

	// New constructs an instance when no dependency resolver provides one
	New func() any

	// Actions lists the operations of the type
	Actions []ActionDescriptor

	// ActionsFunc lazily enumerates actions; used instead of Actions when set
	ActionsFunc func() []ActionDescriptor
}

// ShortName returns the controller name without its "Controller" suffix
func (c *ControllerDescriptor) ShortName() string {
	if len(c.Name) > len(ControllerSuffix) && strings.HasSuffix(c.Name, ControllerSuffix) {
		return strings.TrimSuffix(c.Name, ControllerSuffix)
	}
	return c.Name
}

// Key identifies the controller inside a dependency resolver
func (c *ControllerDescriptor) Key() string {
	if c.Area != "" {
		return "controller:" + strings.ToLower(c.Area) + "/" + strings.ToLower(c.ShortName())
	}
	return "controller:" + strings.ToLower(c.ShortName())
}

// Route binds a normalized path to a controller action
type Route struct {
	Template   string // template before normalization
	Path       string // normalized lookup key
	Verbs      []string
	Area       string
	Controller *ControllerDescriptor
	Action     *ActionDescriptor
	Declared   bool // true when derived from an explicit declaration
	order      int
}

func (r *Route) String() string {
	verbs := "*"
	if len(r.Verbs) > 0 {
		verbs = strings.Join(r.Verbs, ",")
	}
	return fmt.Sprintf("%s %s -> %s.%s", verbs, r.Path, r.Controller.Name, r.Action.Name)
}

// AllowsMethod reports whether the route accepts the given HTTP method
func (r *Route) AllowsMethod(method string) bool {
	if len(r.Verbs) == 0 {
		return true
	}
	for _, v := range r.Verbs {
		if strings.EqualFold(v, method) {
			return true
		}
	}
	return false
}

// Normalize produces the lookup key for a request path: query string and
// fragment stripped, lower-cased, single leading slash, no trailing slash.
func Normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimFunc(strings.ToLower(p), func(r rune) bool {
		return r == '/' || unicode.IsSpace(r)
	})
	if p == "" {
		return "/"
	}
	return "/" + p
}

// Segments splits a normalized path into its non-empty segments
func Segments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
