package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Controller builds a descriptor for handler type C. Actions are bound with Action.
func Controller[C any](name string, factory func() C, actions ...ActionDescriptor) *ControllerDescriptor {
	return &ControllerDescriptor{
		Name:    name,
		New:     func() any { return factory() },
		Actions: actions,
	}
}

// InArea sets the controller's area namespace
func (c *ControllerDescriptor) InArea(area string) *ControllerDescriptor {
	c.Area = area
	return c
}

// WithRoutes adds type-level route templates
func (c *ControllerDescriptor) WithRoutes(templates ...string) *ControllerDescriptor {
	c.Routes = append(c.Routes, templates...)
	return c
}

// ActionOption customizes an ActionDescriptor
type ActionOption func(*ActionDescriptor)

// Action binds fn as an operation of handler type C
func Action[C any](name string, fn func(c C, ctx context.Context) (any, error), opts ...ActionOption) ActionDescriptor {
	a := ActionDescriptor{
		Name: name,
		Invoke: func(ctx context.Context, handler any) (any, error) {
			c, ok := handler.(C)
			if !ok {
				return nil, fmt.Errorf("action %s: handler has type %T", name, handler)
			}
			return fn(c, ctx)
		},
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// WithRoute declares explicit route templates on the action
func WithRoute(templates ...string) ActionOption {
	return func(a *ActionDescriptor) {
		a.Routes = append(a.Routes, templates...)
	}
}

// Verb declares a verb-scoped route; template may be empty
func Verb(method, template string) ActionOption {
	return func(a *ActionDescriptor) {
		a.Verbs = append(a.Verbs, VerbRoute{Method: strings.ToUpper(method), Template: template})
	}
}

// Get is shorthand for Verb("GET", template)
func Get(template string) ActionOption { return Verb("GET", template) }

// Post is shorthand for Verb("POST", template)
func Post(template string) ActionOption { return Verb("POST", template) }

// NonAction marks the operation as not callable through routing
func NonAction() ActionOption {
	return func(a *ActionDescriptor) { a.NonAction = true }
}

// Discover builds a Table from the registered controllers. Discovery is
// best-effort: a descriptor that cannot be enumerated is skipped.
func Discover(logger *slog.Logger, controllers ...*ControllerDescriptor) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	b := NewBuilder(logger)
	for _, c := range controllers {
		if err := scanController(b, c); err != nil {
			logger.Debug("controller skipped during discovery", "error", err)
		}
	}
	t := b.Build()
	logger.Info("route discovery complete", "controllers", len(controllers), "routes", t.Len())
	return t
}

func scanController(b *Builder, c *ControllerDescriptor) (err error) {
	if c == nil {
		return fmt.Errorf("nil controller descriptor")
	}
	if c.Name == "" {
		return fmt.Errorf("controller descriptor without a name")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("controller %s: %v", c.Name, r)
		}
	}()

	actions := c.Actions
	if c.ActionsFunc != nil {
		actions = c.ActionsFunc()
	}

	for i := range actions {
		a := &actions[i]
		if a.NonAction || a.Name == "" || a.Invoke == nil {
			continue
		}
		for _, tmpl := range actionTemplates(c, a) {
			b.Add(&Route{
				Template:   tmpl.template,
				Path:       tmpl.path,
				Verbs:      verbsOf(a),
				Area:       c.Area,
				Controller: c,
				Action:     a,
				Declared:   tmpl.declared,
			})
		}
	}
	return nil
}

type computedPath struct {
	template string
	path     string
	declared bool
}

// actionTemplates computes every path an action registers under:
// action routes, then type routes combined with verb sub-templates or the
// action name, then the /{area}/{controller}/{action} convention.
func actionTemplates(c *ControllerDescriptor, a *ActionDescriptor) []computedPath {
	var out []computedPath

	if len(a.Routes) > 0 {
		for _, t := range a.Routes {
			out = append(out, computedPath{template: t, path: substitute(t, c, a), declared: true})
		}
		return out
	}

	if len(c.Routes) > 0 {
		var subs []string
		for _, v := range a.Verbs {
			if v.Template != "" {
				subs = append(subs, v.Template)
			}
		}
		if len(subs) == 0 {
			subs = []string{a.Name}
		}
		for _, prefix := range c.Routes {
			for _, sub := range subs {
				t := combine(prefix, sub)
				out = append(out, computedPath{template: t, path: substitute(t, c, a), declared: true})
			}
		}
		return out
	}

	t := conventionPath(c, a)
	return []computedPath{{template: t, path: Normalize(t)}}
}

func conventionPath(c *ControllerDescriptor, a *ActionDescriptor) string {
	if c.Area != "" {
		return "/" + c.Area + "/" + c.ShortName() + "/" + a.Name
	}
	return "/" + c.ShortName() + "/" + a.Name
}

// combine joins a type-level template with an action sub-template. Sub-templates
// rooted with "/" or "~/" replace the prefix.
func combine(prefix, sub string) string {
	if strings.HasPrefix(sub, "~/") {
		return sub[1:]
	}
	if strings.HasPrefix(sub, "/") {
		return sub
	}
	return strings.TrimRight(prefix, "/") + "/" + sub
}

func substitute(t string, c *ControllerDescriptor, a *ActionDescriptor) string {
	t = replaceFold(t, PlaceholderArea, c.Area)
	t = replaceFold(t, PlaceholderController, c.ShortName())
	t = replaceFold(t, PlaceholderAction, a.Name)
	for strings.Contains(t, "//") {
		t = strings.ReplaceAll(t, "//", "/")
	}
	return Normalize(t)
}

func replaceFold(s, old, repl string) string {
	lower := strings.ToLower(s)
	var sb strings.Builder
	for {
		i := strings.Index(lower, old)
		if i < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		sb.WriteString(s[:i])
		sb.WriteString(repl)
		s = s[i+len(old):]
		lower = lower[i+len(old):]
	}
}

func verbsOf(a *ActionDescriptor) []string {
	var verbs []string
	seen := make(map[string]bool)
	for _, v := range a.Verbs {
		m := strings.ToUpper(v.Method)
		if m != "" && !seen[m] {
			seen[m] = true
			verbs = append(verbs, m)
		}
	}
	return verbs
}
