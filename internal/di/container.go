package di

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Lifetime controls how long a resolved instance lives
type Lifetime int

const (
	Transient Lifetime = iota // new instance per resolution
	Scoped                    // one instance per scope (request)
	Singleton                 // one instance per container
)

func (l Lifetime) String() string {
	switch l {
	case Scoped:
		return "scoped"
	case Singleton:
		return "singleton"
	default:
		return "transient"
	}
}

var (
	// ErrNotRegistered is returned when no factory exists for a name
	ErrNotRegistered = errors.New("service not registered")

	// ErrScopeClosed is returned when resolving from a released scope
	ErrScopeClosed = errors.New("scope already closed")
)

// FactoryFunc creates a service instance, resolving its own dependencies
// through the given resolver
type FactoryFunc func(r Resolver) (any, error)

// Resolver resolves services by name
type Resolver interface {
	Resolve(name string) (any, error)
	Has(name string) bool
}

type definition struct {
	name     string
	lifetime Lifetime
	factory  FactoryFunc

	once     sync.Once
	instance any
	err      error
}

// Container holds service definitions and singleton instances
type Container struct {
	mu       sync.RWMutex
	services map[string]*definition
	logger   *slog.Logger
}

// NewContainer creates an empty container
func NewContainer(logger *slog.Logger) *Container {
	if logger == nil {
		logger = slog.Default()
	}
	return &Container{
		services: make(map[string]*definition),
		logger:   logger,
	}
}

// Register adds a factory under name with the given lifetime. Re-registering
// a name replaces the previous definition.
func (c *Container) Register(name string, lifetime Lifetime, factory FactoryFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services[name] = &definition{name: name, lifetime: lifetime, factory: factory}
	c.logger.Debug("service registered", "name", name, "lifetime", lifetime.String())
}

// RegisterInstance registers an existing value as a singleton
func (c *Container) RegisterInstance(name string, instance any) {
	c.Register(name, Singleton, func(Resolver) (any, error) { return instance, nil })
}

// Has reports whether a factory is registered under name
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.services[name]
	return ok
}

// Resolve resolves a service outside of any scope. Scoped services behave as
// transient here.
func (c *Container) Resolve(name string) (any, error) {
	return c.resolve(name, nil, make(map[string]bool))
}

// NewScope opens a request scope. The caller must Close it.
func (c *Container) NewScope() *Scope {
	return &Scope{
		container: c,
		instances: make(map[string]any),
	}
}

func (c *Container) lookup(name string) (*definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.services[name]
	return def, ok
}

func (c *Container) resolve(name string, scope *Scope, resolving map[string]bool) (any, error) {
	if resolving[name] {
		return nil, fmt.Errorf("circular dependency detected for service '%s'", name)
	}

	def, ok := c.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrNotRegistered, name)
	}

	r := &chainResolver{container: c, scope: scope, resolving: resolving}

	switch def.lifetime {
	case Singleton:
		def.once.Do(func() {
			// singletons never capture a request scope
			root := &chainResolver{container: c, resolving: resolving}
			resolving[name] = true
			def.instance, def.err = def.factory(root)
			delete(resolving, name)
		})
		if def.err != nil {
			return nil, fmt.Errorf("failed to create singleton service '%s': %w", name, def.err)
		}
		return def.instance, nil

	case Scoped:
		if scope != nil {
			return scope.getOrCreate(name, func() (any, error) {
				resolving[name] = true
				defer delete(resolving, name)
				return def.factory(r)
			})
		}
	}

	resolving[name] = true
	instance, err := def.factory(r)
	delete(resolving, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create service '%s': %w", name, err)
	}
	if scope != nil {
		scope.track(instance)
	}
	return instance, nil
}

// chainResolver carries circular-dependency state through nested factories
type chainResolver struct {
	container *Container
	scope     *Scope
	resolving map[string]bool
}

func (r *chainResolver) Resolve(name string) (any, error) {
	return r.container.resolve(name, r.scope, r.resolving)
}

func (r *chainResolver) Has(name string) bool {
	return r.container.Has(name)
}

// Scope caches scoped instances for the lifetime of one request and closes
// every io.Closer it created when released.
type Scope struct {
	container *Container
	mu        sync.Mutex
	instances map[string]any
	owned     []any
	closed    bool
}

// Resolve resolves a service within this scope
func (s *Scope) Resolve(name string) (any, error) {
	return s.container.resolve(name, s, make(map[string]bool))
}

// Has reports whether the underlying container knows name
func (s *Scope) Has(name string) bool {
	return s.container.Has(name)
}

func (s *Scope) getOrCreate(name string, create func() (any, error)) (any, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrScopeClosed
	}
	if inst, ok := s.instances[name]; ok {
		s.mu.Unlock()
		return inst, nil
	}
	s.mu.Unlock()

	inst, err := create()
	if err != nil {
		return nil, fmt.Errorf("failed to create scoped service '%s': %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if c, ok := inst.(io.Closer); ok {
			c.Close()
		}
		return nil, ErrScopeClosed
	}
	if existing, ok := s.instances[name]; ok {
		// lost a creation race; keep the first and dispose ours
		if c, ok := inst.(io.Closer); ok {
			c.Close()
		}
		return existing, nil
	}
	s.instances[name] = inst
	s.owned = append(s.owned, inst)
	return inst, nil
}

func (s *Scope) track(inst any) {
	if _, ok := inst.(io.Closer); !ok {
		return
	}
	s.mu.Lock()
	s.owned = append(s.owned, inst)
	s.mu.Unlock()
}

// Close releases every closable instance created by the scope, newest first.
// Closing twice is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	owned := s.owned
	s.owned = nil
	s.instances = nil
	s.mu.Unlock()

	var errs []error
	for i := len(owned) - 1; i >= 0; i-- {
		if c, ok := owned[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
