package hubs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"dispatch_engine/internal/di"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/membership"
	"dispatch_engine/internal/observability"
)

// ErrHubNotFound is returned by connection operations on an unknown hub
var ErrHubNotFound = errors.New("hub not found")

// InvocationError is the structured failure of a hub call
type InvocationError struct {
	Hub     string
	Method  string
	Message string
	Err     error
}

func (e *InvocationError) Error() string { return e.Message }

func (e *InvocationError) Unwrap() error { return e.Err }

// Config holds registry configuration
type Config struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Transport delivers outbound events. Nil drops them with a log line.
	Transport Transport

	// Container builds hub instances registered as "hub:<name>". Each call
	// gets its own scope.
	Container *di.Container

	// Metrics is optional
	Metrics *observability.EngineMetrics
}

// Registry owns hub definitions, connection sets and groups
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]*Definition
	hubs      sync.Map // lower-case hub name -> *hubState
	transport Transport
	container *di.Container
	logger    *slog.Logger
	metrics   *observability.EngineMetrics
}

// NewRegistry creates a registry with the given hubs
func NewRegistry(cfg *Config, defs ...*Definition) *Registry {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		defs:      make(map[string]*Definition),
		transport: cfg.Transport,
		container: cfg.Container,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
	r.Register(defs...)
	return r
}

// Register adds hub definitions. Names are case-insensitive; a later
// definition replaces an earlier one.
func (r *Registry) Register(defs ...*Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		if d == nil || d.Name == "" || d.New == nil {
			continue
		}
		r.defs[strings.ToLower(d.Name)] = d
		r.logger.Debug("hub registered", "hub", d.Name, "methods", d.Methods())
	}
}

// SetTransport replaces the outbound transport
func (r *Registry) SetTransport(t Transport) {
	r.mu.Lock()
	r.transport = t
	r.mu.Unlock()
}

// Hubs lists the registered hub names
func (r *Registry) Hubs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) definition(hub string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[strings.ToLower(hub)]
	return d, ok
}

func (r *Registry) state(hub string) *hubState {
	key := strings.ToLower(hub)
	if v, ok := r.hubs.Load(key); ok {
		return v.(*hubState)
	}
	v, _ := r.hubs.LoadOrStore(key, &hubState{conns: membership.NewSet()})
	return v.(*hubState)
}

// Connect registers a new connection and runs the hub's connect hook. A
// failing hook rolls the connection back.
func (r *Registry) Connect(ctx context.Context, hub string) (string, error) {
	def, ok := r.definition(hub)
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrHubNotFound, hub)
	}

	id := uuid.NewString()
	r.state(def.Name).conns.Add(id)
	r.metrics.HubConnections(def.Name, 1)

	err := r.withInstance(ctx, def, id, func(instance any) error {
		if c, ok := instance.(Connector); ok {
			return c.OnConnected(ctx)
		}
		return nil
	})
	if err != nil {
		r.remove(def.Name, id)
		r.logger.Warn("hub connect hook failed", "hub", def.Name, "connection_id", id, "error", err)
		return "", fmt.Errorf("connect %s: %w", def.Name, err)
	}

	r.logger.Debug("hub connection opened", "hub", def.Name, "connection_id", id)
	return id, nil
}

// Disconnect runs the hub's disconnect hook, then removes the connection
// from the hub and from every group. Unknown ids are ignored.
func (r *Registry) Disconnect(ctx context.Context, hub, id string) error {
	def, ok := r.definition(hub)
	if !ok {
		return fmt.Errorf("%w: '%s'", ErrHubNotFound, hub)
	}
	if !r.state(def.Name).conns.Has(id) {
		return nil
	}

	err := r.withInstance(ctx, def, id, func(instance any) error {
		if d, ok := instance.(Disconnector); ok {
			return d.OnDisconnected(ctx)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("hub disconnect hook failed", "hub", def.Name, "connection_id", id, "error", err)
	}

	r.remove(def.Name, id)
	r.logger.Debug("hub connection closed", "hub", def.Name, "connection_id", id)
	return nil
}

func (r *Registry) remove(hub, id string) {
	st := r.state(hub)
	if st.conns.Remove(id) {
		r.metrics.HubConnections(hub, -1)
	}
	st.groups.RemoveAll(id)
}

// Invoke calls a hub method on behalf of a connection. The result is
// {"result": ...} for methods with a return value, nil for void methods and
// {"error": "..."} for every failure. Invoke never panics.
func (r *Registry) Invoke(ctx context.Context, hub, method, connectionID string, args []byte) []byte {
	label := "unknown"
	if def, ok := r.definition(hub); ok {
		label = def.Name
	}

	result, void, err := r.invoke(ctx, hub, method, connectionID, args)
	if err != nil {
		r.metrics.HubInvoked(label, "error")
		r.logger.Warn("hub invocation failed",
			"hub", hub,
			"method", method,
			"connection_id", connectionID,
			"error", err.Error(),
		)
		return errorPayload(err.Error())
	}
	r.metrics.HubInvoked(label, "ok")
	if void {
		return nil
	}
	out, merr := json.Marshal(map[string]any{"result": result})
	if merr != nil {
		return errorPayload(fmt.Sprintf("result not serializable: %v", merr))
	}
	return out
}

func (r *Registry) invoke(ctx context.Context, hub, method, connectionID string, args []byte) (result any, void bool, err error) {
	def, ok := r.definition(hub)
	if !ok {
		return nil, false, &InvocationError{Hub: hub, Method: method, Message: fmt.Sprintf("Hub '%s' not found", hub)}
	}
	m, ok := def.Method(method)
	if !ok {
		return nil, false, &InvocationError{Hub: def.Name, Method: method, Message: fmt.Sprintf("Method '%s' not found on hub '%s'", method, def.Name)}
	}

	err = r.withInstance(ctx, def, connectionID, func(instance any) (cerr error) {
		result, cerr = m.call(ctx, instance, splitArgs(args, m.Arity))
		if cerr == nil {
			if aw, ok := result.(dispatch.Awaitable); ok {
				result, cerr = aw.Await(ctx)
			}
		}
		return cerr
	})
	if err != nil {
		return nil, false, &InvocationError{Hub: def.Name, Method: m.Name, Message: innermost(err).Error(), Err: err}
	}
	return result, m.Void, nil
}

// withInstance builds a hub instance bound to the caller, runs fn and
// disposes what it built. A panic in hub code becomes an error.
func (r *Registry) withInstance(ctx context.Context, def *Definition, connectionID string, fn func(instance any) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("hub code panicked", "hub", def.Name, "connection_id", connectionID, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	var instance any
	key := "hub:" + strings.ToLower(def.Name)

	if r.container != nil && r.container.Has(key) {
		scope := r.container.NewScope()
		defer func() {
			if err := scope.Close(); err != nil {
				r.logger.Warn("hub scope release failed", "hub", def.Name, "error", err)
			}
		}()
		v, rerr := scope.Resolve(key)
		if rerr != nil {
			return fmt.Errorf("resolve hub %s: %w", def.Name, rerr)
		}
		instance = v
	} else {
		instance = def.New()
		if c, ok := instance.(io.Closer); ok {
			defer c.Close()
		}
	}

	if b, ok := instance.(Binder); ok {
		b.Bind(r.caller(def.Name, connectionID))
	}
	return fn(instance)
}

func (r *Registry) caller(hub, connectionID string) Caller {
	return Caller{
		ConnectionID: connectionID,
		HubName:      hub,
		Clients:      &Clients{registry: r, hub: hub, caller: connectionID},
		Groups:       &Groups{registry: r, hub: hub},
	}
}

// Clients returns an addressing surface for server-initiated pushes that
// are not tied to a calling connection
func (r *Registry) Clients(hub string) *Clients {
	return &Clients{registry: r, hub: hub}
}

// AddToGroup puts a connected connection into a group, creating the group
// on demand. Ids that are not connected to the hub are ignored.
func (r *Registry) AddToGroup(hub, group, connectionID string) bool {
	st := r.state(hub)
	if !st.conns.Has(connectionID) {
		return false
	}
	st.groups.Add(group, connectionID)
	// remove drops the connection before its groups, so a Disconnect that
	// raced past the check above is seen here
	if !st.conns.Has(connectionID) {
		st.groups.Remove(group, connectionID)
		return false
	}
	return true
}

// RemoveFromGroup takes a connection out of a group. Empty groups are dropped.
func (r *Registry) RemoveFromGroup(hub, group, connectionID string) {
	r.state(hub).groups.Remove(group, connectionID)
}

// Connections returns a snapshot of the hub's connection ids, sorted
func (r *Registry) Connections(hub string) []string {
	v, ok := r.hubs.Load(strings.ToLower(hub))
	if !ok {
		return nil
	}
	return v.(*hubState).conns.Snapshot()
}

// GroupMembers returns a snapshot of a group's members, sorted
func (r *Registry) GroupMembers(hub, group string) []string {
	v, ok := r.hubs.Load(strings.ToLower(hub))
	if !ok {
		return nil
	}
	return v.(*hubState).groups.Members(group)
}

// ConnectionCount returns the number of connections across all hubs
func (r *Registry) ConnectionCount() int {
	n := 0
	r.hubs.Range(func(_, v any) bool {
		n += v.(*hubState).conns.Len()
		return true
	})
	return n
}

// send hands one event to the transport. Transport faults are logged and
// swallowed.
func (r *Registry) send(ctx context.Context, hub, method, target string, args []byte) {
	r.mu.RLock()
	t := r.transport
	r.mu.RUnlock()

	if t == nil {
		r.logger.Warn("hub event dropped, no transport", "hub", hub, "method", method, "target", target)
		r.metrics.TransportFault("hub")
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("hub transport panicked", "hub", hub, "method", method, "target", target, "panic", p)
			r.metrics.TransportFault("hub")
		}
	}()
	if err := t.Dispatch(ctx, hub, method, target, args); err != nil {
		r.logger.Warn("hub transport failed", "hub", hub, "method", method, "target", target, "error", err)
		r.metrics.TransportFault("hub")
	}
}

func errorPayload(message string) []byte {
	out, _ := json.Marshal(map[string]string{"error": message})
	return out
}

// innermost follows the wrap chain to the root cause
func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

type hubState struct {
	conns  *membership.Set
	groups membership.Index
}
