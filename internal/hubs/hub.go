package hubs

import (
	"context"
)

// Transport delivers an outbound hub event across the process boundary.
// An empty target means every connection of the hub.
type Transport interface {
	Dispatch(ctx context.Context, hub, method, target string, args []byte) error
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, hub, method, target string, args []byte) error

func (f TransportFunc) Dispatch(ctx context.Context, hub, method, target string, args []byte) error {
	return f(ctx, hub, method, target, args)
}

// Connector is implemented by hubs that react to new connections
type Connector interface {
	OnConnected(ctx context.Context) error
}

// Disconnector is implemented by hubs that react to closed connections
type Disconnector interface {
	OnDisconnected(ctx context.Context) error
}

// Binder is implemented by hubs that receive their caller context. Embed
// Hub to get it.
type Binder interface {
	Bind(c Caller)
}

// Caller is the per-invocation view of the hub: who is calling and how to
// reach other connections
type Caller struct {
	ConnectionID string
	HubName      string
	Clients      *Clients
	Groups       *Groups
}

// Hub can be embedded by hub types
type Hub struct {
	Caller
}

// Bind stores the caller context
func (h *Hub) Bind(c Caller) {
	h.Caller = c
}

// ClientProxy sends an event to one addressing target
type ClientProxy interface {
	Send(ctx context.Context, method string, args ...any)
}

// Clients exposes the addressing modes for one caller
type Clients struct {
	registry *Registry
	hub      string
	caller   string
}

// All addresses every connection of the hub
func (c *Clients) All() ClientProxy {
	return proxy{c: c, broadcast: true}
}

// Caller addresses only the calling connection
func (c *Clients) Caller() ClientProxy {
	caller := c.caller
	return proxy{c: c, targets: func() []string { return []string{caller} }}
}

// Others addresses every connection of the hub except the caller
func (c *Clients) Others() ClientProxy {
	return proxy{c: c, targets: func() []string {
		all := c.registry.Connections(c.hub)
		out := all[:0]
		for _, id := range all {
			if id != c.caller {
				out = append(out, id)
			}
		}
		return out
	}}
}

// Client addresses one connection by id
func (c *Clients) Client(id string) ClientProxy {
	return proxy{c: c, targets: func() []string { return []string{id} }}
}

// Group addresses the current members of a group
func (c *Clients) Group(name string) ClientProxy {
	return proxy{c: c, targets: func() []string { return c.registry.GroupMembers(c.hub, name) }}
}

type proxy struct {
	c         *Clients
	broadcast bool
	targets   func() []string
}

func (p proxy) Send(ctx context.Context, method string, args ...any) {
	if args == nil {
		args = []any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		p.c.registry.logger.Error("hub event not encodable", "hub", p.c.hub, "method", method, "error", err)
		return
	}
	if p.broadcast {
		p.c.registry.send(ctx, p.c.hub, method, "", payload)
		return
	}
	for _, id := range p.targets() {
		p.c.registry.send(ctx, p.c.hub, method, id, payload)
	}
}

// Groups manages group membership for one hub
type Groups struct {
	registry *Registry
	hub      string
}

// Add puts a connection into a group. It reports false when the connection
// is not (or no longer) connected.
func (g *Groups) Add(connectionID, group string) bool {
	return g.registry.AddToGroup(g.hub, group, connectionID)
}

// Remove takes a connection out of a group
func (g *Groups) Remove(connectionID, group string) {
	g.registry.RemoveFromGroup(g.hub, group, connectionID)
}
