package app

import (
	"fmt"
	"log/slog"

	"dispatch_engine/internal/backplane"
	"dispatch_engine/internal/di"
	"dispatch_engine/internal/hubs"
	"dispatch_engine/internal/routing"
	"dispatch_engine/internal/stream"
)

// Service names in the container
const (
	ServiceNotes   = "notes.store"
	ServiceEvents  = "events"
	ServiceHubs    = "hubs"
	ServiceStreams = "streams"
)

// Services are the collaborators the sample controllers and hubs need
type Services struct {
	Logger  *slog.Logger
	AppName string
	Notes   NoteStore
	Events  backplane.StreamFanout
	Hubs    *hubs.Registry
	Streams *stream.Manager
	Table   *routing.Table
}

// Hubs returns the hub definitions registered at startup
func Hubs(logger *slog.Logger) []*hubs.Definition {
	return []*hubs.Definition{ChatDefinition(logger)}
}

func resolveAs[T any](r di.Resolver, name string) (T, error) {
	var zero T
	v, err := r.Resolve(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("service '%s' has type %T", name, v)
	}
	return t, nil
}

// Register adds the shared services, one scoped factory per controller and
// the chat hub factory to c
func Register(c *di.Container, svc *Services) {
	logger := svc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := svc.AppName
	if name == "" {
		name = "dispatch-engine"
	}

	c.RegisterInstance(ServiceNotes, svc.Notes)
	c.RegisterInstance(ServiceEvents, svc.Events)
	c.RegisterInstance(ServiceHubs, svc.Hubs)
	c.RegisterInstance(ServiceStreams, svc.Streams)

	descriptors := Controllers()
	keys := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		keys[d.Name] = d.Key()
	}

	c.Register(keys["HomeController"], di.Scoped, func(r di.Resolver) (any, error) {
		registry, err := resolveAs[*hubs.Registry](r, ServiceHubs)
		if err != nil {
			return nil, err
		}
		routes := 0
		if svc.Table != nil {
			routes = svc.Table.Len()
		}
		return &HomeController{name: name, routes: routes, hubs: registry.Hubs()}, nil
	})

	c.Register(keys["NotesController"], di.Scoped, func(r di.Resolver) (any, error) {
		store, err := resolveAs[NoteStore](r, ServiceNotes)
		if err != nil {
			return nil, err
		}
		events, err := resolveAs[backplane.StreamFanout](r, ServiceEvents)
		if err != nil {
			return nil, err
		}
		registry, err := resolveAs[*hubs.Registry](r, ServiceHubs)
		if err != nil {
			return nil, err
		}
		return &NotesController{
			store:  store,
			events: events,
			chat:   registry.Clients(ChatHubName),
			logger: logger,
		}, nil
	})

	c.Register(keys["DashboardController"], di.Scoped, func(r di.Resolver) (any, error) {
		store, err := resolveAs[NoteStore](r, ServiceNotes)
		if err != nil {
			return nil, err
		}
		registry, err := resolveAs[*hubs.Registry](r, ServiceHubs)
		if err != nil {
			return nil, err
		}
		streams, err := resolveAs[*stream.Manager](r, ServiceStreams)
		if err != nil {
			return nil, err
		}
		return &DashboardController{store: store, hubs: registry, streams: streams}, nil
	})

	c.Register("hub:chat", di.Transient, func(di.Resolver) (any, error) {
		return NewChatHub(logger.With("hub", ChatHubName)), nil
	})
}
