package hubs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Method is one entry of a hub's dispatch table: a typed closure that
// decodes its own positional arguments
type Method struct {
	Name  string
	Arity int
	Void  bool
	call  func(ctx context.Context, hub any, args []jsoniter.RawMessage) (any, error)
}

// Definition describes a hub: its name, how to build an instance and its
// callable methods
type Definition struct {
	Name    string
	New     func() any
	methods map[string]Method
	order   []string
}

// lifecycle and binding methods are never callable by clients
var reserved = map[string]bool{
	"onconnected":    true,
	"ondisconnected": true,
	"bind":           true,
}

// Define builds a hub definition. Method names are matched
// case-insensitively; a later method with the same name replaces an earlier
// one.
func Define[H any](name string, factory func() H, methods ...Method) *Definition {
	d := &Definition{
		Name:    name,
		New:     func() any { return factory() },
		methods: make(map[string]Method, len(methods)),
	}
	for _, m := range methods {
		key := strings.ToLower(m.Name)
		if key == "" || m.call == nil {
			continue
		}
		if reserved[key] {
			slog.Default().Debug("hub method name is reserved, skipping", "hub", name, "method", m.Name)
			continue
		}
		if _, exists := d.methods[key]; !exists {
			d.order = append(d.order, m.Name)
		}
		d.methods[key] = m
	}
	return d
}

// Method looks up a callable method by name, ignoring case
func (d *Definition) Method(name string) (Method, bool) {
	m, ok := d.methods[strings.ToLower(name)]
	return m, ok
}

// Methods lists the callable method names in declaration order
func (d *Definition) Methods() []string {
	return append([]string(nil), d.order...)
}

// splitArgs parses a JSON array into n positional elements. Missing,
// malformed or short input yields nil elements, which decode to zero values.
func splitArgs(raw []byte, n int) []jsoniter.RawMessage {
	out := make([]jsoniter.RawMessage, n)
	if len(raw) == 0 || n == 0 {
		return out
	}
	var elems []jsoniter.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return out
	}
	copy(out, elems)
	return out
}

// arg decodes one positional argument, falling back to T's zero value
func arg[T any](raw jsoniter.RawMessage) T {
	var v T
	if len(raw) == 0 {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero
	}
	return v
}

func receiver[H any](hub any) (H, error) {
	h, ok := hub.(H)
	if !ok {
		var want H
		return want, fmt.Errorf("hub instance is %T, method expects %T", hub, want)
	}
	return h, nil
}

// Func0 registers a method with no arguments and a result
func Func0[H, R any](name string, fn func(h H, ctx context.Context) (R, error)) Method {
	return Method{Name: name, call: func(ctx context.Context, hub any, _ []jsoniter.RawMessage) (any, error) {
		h, err := receiver[H](hub)
		if err != nil {
			return nil, err
		}
		return fn(h, ctx)
	}}
}

// Func1 registers a method with one argument and a result
func Func1[H, A, R any](name string, fn func(h H, ctx context.Context, a A) (R, error)) Method {
	return Method{Name: name, Arity: 1, call: func(ctx context.Context, hub any, args []jsoniter.RawMessage) (any, error) {
		h, err := receiver[H](hub)
		if err != nil {
			return nil, err
		}
		return fn(h, ctx, arg[A](args[0]))
	}}
}

// Func2 registers a method with two arguments and a result
func Func2[H, A, B, R any](name string, fn func(h H, ctx context.Context, a A, b B) (R, error)) Method {
	return Method{Name: name, Arity: 2, call: func(ctx context.Context, hub any, args []jsoniter.RawMessage) (any, error) {
		h, err := receiver[H](hub)
		if err != nil {
			return nil, err
		}
		return fn(h, ctx, arg[A](args[0]), arg[B](args[1]))
	}}
}

// Func3 registers a method with three arguments and a result
func Func3[H, A, B, C, R any](name string, fn func(h H, ctx context.Context, a A, b B, c C) (R, error)) Method {
	return Method{Name: name, Arity: 3, call: func(ctx context.Context, hub any, args []jsoniter.RawMessage) (any, error) {
		h, err := receiver[H](hub)
		if err != nil {
			return nil, err
		}
		return fn(h, ctx, arg[A](args[0]), arg[B](args[1]), arg[C](args[2]))
	}}
}

// Action0 registers a void method with no arguments
func Action0[H any](name string, fn func(h H, ctx context.Context) error) Method {
	return Method{Name: name, Void: true, call: func(ctx context.Context, hub any, _ []jsoniter.RawMessage) (any, error) {
		h, err := receiver[H](hub)
		if err != nil {
			return nil, err
		}
		return nil, fn(h, ctx)
	}}
}

// Action1 registers a void method with one argument
func Action1[H, A any](name string, fn func(h H, ctx context.Context, a A) error) Method {
	return Method{Name: name, Arity: 1, Void: true, call: func(ctx context.Context, hub any, args []jsoniter.RawMessage) (any, error) {
		h, err := receiver[H](hub)
		if err != nil {
			return nil, err
		}
		return nil, fn(h, ctx, arg[A](args[0]))
	}}
}

// Action2 registers a void method with two arguments
func Action2[H, A, B any](name string, fn func(h H, ctx context.Context, a A, b B) error) Method {
	return Method{Name: name, Arity: 2, Void: true, call: func(ctx context.Context, hub any, args []jsoniter.RawMessage) (any, error) {
		h, err := receiver[H](hub)
		if err != nil {
			return nil, err
		}
		return nil, fn(h, ctx, arg[A](args[0]), arg[B](args[1]))
	}}
}

// Action3 registers a void method with three arguments
func Action3[H, A, B, C any](name string, fn func(h H, ctx context.Context, a A, b B, c C) error) Method {
	return Method{Name: name, Arity: 3, Void: true, call: func(ctx context.Context, hub any, args []jsoniter.RawMessage) (any, error) {
		h, err := receiver[H](hub)
		if err != nil {
			return nil, err
		}
		return nil, fn(h, ctx, arg[A](args[0]), arg[B](args[1]), arg[C](args[2]))
	}}
}
