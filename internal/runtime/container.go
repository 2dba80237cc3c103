package runtime

import (
	"context"
	"errors"
	"sync"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
)

// Injector resolves injection tokens from an external source. Implementations
// return errors.ErrUnresolved for tokens they do not know so the next source
// can be tried.
type Injector interface {
	Resolve(ctx context.Context, token string, raw any) (any, error)
}

// InjectorFunc adapts a function to the Injector interface.
type InjectorFunc func(ctx context.Context, token string, raw any) (any, error)

func (f InjectorFunc) Resolve(ctx context.Context, token string, raw any) (any, error) {
	return f(ctx, token, raw)
}

// ResolverFunc computes a process-wide injectable for one call.
type ResolverFunc func(cc *CallContext) (any, error)

// Container builds a fresh controller instance for every call. Tokens are
// looked up in call-scoped values first, then in process-wide values and
// resolvers, then in the registered injectors in order.
type Container struct {
	mu        sync.RWMutex
	values    map[string]any
	resolvers map[string]ResolverFunc
	injectors []Injector
}

// NewContainer returns a Container consulting injectors after its own values.
func NewContainer(injectors ...Injector) *Container {
	c := &Container{
		values:    make(map[string]any),
		resolvers: make(map[string]ResolverFunc),
	}
	for _, inj := range injectors {
		c.AddInjector(inj)
	}
	return c
}

// Provide registers a process-wide value for token.
func (c *Container) Provide(token string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[token] = value
}

// ProvideFunc registers a per-call resolver for token.
func (c *Container) ProvideFunc(token string, fn ResolverFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolvers[token] = fn
}

// AddInjector appends an injection source.
func (c *Container) AddInjector(inj Injector) {
	if inj == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injectors = append(c.injectors, inj)
}

func (c *Container) resolve(cc *CallContext, token string) (any, error) {
	if v, ok := cc.provision(token); ok {
		return v, nil
	}

	c.mu.RLock()
	value, hasValue := c.values[token]
	resolver := c.resolvers[token]
	injectors := c.injectors
	c.mu.RUnlock()

	if hasValue && !isNil(value) {
		return value, nil
	}
	if resolver != nil {
		v, err := resolver(cc)
		if err != nil {
			return nil, err
		}
		if !isNil(v) {
			return v, nil
		}
	}
	for _, inj := range injectors {
		v, err := inj.Resolve(cc.Context(), token, cc.Raw())
		if errors.Is(err, errspkg.ErrUnresolved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !isNil(v) {
			return v, nil
		}
	}
	return nil, errspkg.ErrUnresolved
}

// Build resolves every declaration of entry's controller and constructs the
// instance for this call.
func (c *Container) Build(cc *CallContext, entry *MethodEntry) (any, error) {
	deps := make(Dependencies, len(entry.Inject))
	for _, decl := range entry.Inject {
		value, err := c.resolve(cc, decl.Token)
		if err != nil {
			return nil, errspkg.DependencyUnresolved(entry.Controller, decl.Field, decl.Token, err)
		}
		deps[decl.Field] = value
	}

	instance, err := entry.definition.newInstance(deps)
	if err != nil {
		if tagged, ok := errspkg.As(err); ok && tagged.Kind != errspkg.KindDependencyUnresolved {
			return nil, err
		}
		return nil, errspkg.ConstructionFailed(entry.Controller, err)
	}
	return instance, nil
}
