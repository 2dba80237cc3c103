package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/chord/internal/runtime/config"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	idspkg "github.com/drblury/chord/internal/runtime/ids"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
	"github.com/drblury/chord/transport"
)

// ErrorHook observes every failed call. Its own failure is logged and never
// replaces the original error.
type ErrorHook func(ctx context.Context, err error, raw any) error

// ComposerDependencies holds the optional collaborators of a Composer.
// Leave fields nil to skip the related behaviour.
type ComposerDependencies struct {
	OnError                   ErrorHook
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	Injectors                 []Injector
	// Validator checks struct arguments after binding, for every method.
	Validator *validator.Validate
	// MetricsRegisterer defaults to prometheus.DefaultRegisterer.
	MetricsRegisterer prometheus.Registerer
	// Transports defaults to transport.DefaultRegistry.
	Transports TransportBuilder
}

// Composer owns the method registry and the dependency container, runs the
// middleware chain for every call and normalizes the outcome.
type Composer struct {
	Conf   *configpkg.Config
	Logger loggingpkg.Logger

	registry  *Registry
	container *Container

	middlewares atomic.Pointer[[]Middleware]
	useMu       sync.Mutex

	onError    ErrorHook
	validator  *validator.Validate
	registerer prometheus.Registerer
	transports TransportBuilder

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

// NewComposer builds a Composer and panics on configuration errors, which
// are fatal at startup. Use TryNewComposer to handle them.
func NewComposer(conf *configpkg.Config, log loggingpkg.Logger, controllers []ControllerDefinition, deps ComposerDependencies) *Composer {
	c, err := TryNewComposer(conf, log, controllers, deps)
	if err != nil {
		panic(err)
	}
	return c
}

// TryNewComposer builds a Composer, returning configuration errors.
func TryNewComposer(conf *configpkg.Config, log loggingpkg.Logger, controllers []ControllerDefinition, deps ComposerDependencies) (*Composer, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	log.Info("Creating composer", loggingpkg.LogFields{
		"route":       conf.Route,
		"controllers": len(controllers),
		"config":      conf,
	})

	c := &Composer{
		Conf:       conf,
		Logger:     log,
		registry:   NewRegistry(),
		container:  NewContainer(deps.Injectors...),
		onError:    deps.OnError,
		validator:  deps.Validator,
		registerer: deps.MetricsRegisterer,
		transports: deps.Transports,
	}
	if c.registerer == nil {
		c.registerer = prometheus.DefaultRegisterer
	}
	if c.transports == nil {
		c.transports = transport.DefaultRegistry
	}
	empty := []Middleware{}
	c.middlewares.Store(&empty)

	if err := c.registry.Register(controllers...); err != nil {
		return nil, err
	}
	if err := c.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Composer) registerConfiguredMiddlewares(deps ComposerDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := c.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Register adds controllers after construction. It takes the registry's
// write lock and never interleaves with lookups.
func (c *Composer) Register(defs ...ControllerDefinition) error {
	return c.registry.Register(defs...)
}

// Use appends global middleware. Calls already running keep the chain they
// started with.
func (c *Composer) Use(mws ...Middleware) {
	c.useMu.Lock()
	defer c.useMu.Unlock()

	current := *c.middlewares.Load()
	next := make([]Middleware, 0, len(current)+len(mws))
	next = append(next, current...)
	for _, mw := range mws {
		if mw != nil {
			next = append(next, mw)
		}
	}
	c.middlewares.Store(&next)
}

// Provide registers a process-wide injectable.
func (c *Composer) Provide(token string, value any) {
	c.container.Provide(token, value)
}

// ProvideFunc registers a per-call resolver for token.
func (c *Composer) ProvideFunc(token string, fn ResolverFunc) {
	c.container.ProvideFunc(token, fn)
}

// AddInjector appends an injection source consulted after provided values.
func (c *Composer) AddInjector(inj Injector) {
	c.container.AddInjector(inj)
}

// Resolve looks up a registered method.
func (c *Composer) Resolve(controller, method string) (*MethodEntry, error) {
	return c.registry.Resolve(controller, method)
}

// Methods lists every registered method with its stats.
func (c *Composer) Methods() []MethodInfo {
	return c.registry.Methods()
}

func (c *Composer) strict() bool {
	return c.Conf != nil && c.Conf.Development
}

// Exec runs one call. The intended method is taken from raw when raw is a
// Call, or extracted by adapter middleware registered with Use. Exec always
// returns an envelope; in development mode a middleware contract violation
// panics instead.
func (c *Composer) Exec(ctx context.Context, raw any) Envelope {
	if ctx == nil {
		ctx = context.Background()
	}
	cc := newCallContext(ctx, raw, idspkg.CreateULID(), c.Logger)
	switch v := raw.(type) {
	case Call:
		cc.SetCall(v)
	case *Call:
		if v != nil {
			cc.SetCall(*v)
		}
	}

	chain := compose(*c.middlewares.Load(), c.dispatch, c.strict())
	result, err := chain(cc)

	cc.setState(CallNormalizing)
	if cc.entry != nil {
		cc.entry.Stats.record(time.Since(cc.startedAt), err)
	}
	if err != nil {
		c.reportError(cc, err)
		cc.setState(CallFailed)
	} else {
		cc.setState(CallCompleted)
	}
	return Normalize(result, err, cc.echo())
}

func (c *Composer) dispatch(cc *CallContext) (any, error) {
	call, ok := cc.Call()
	if !ok {
		return nil, errspkg.InvalidArgument("request does not select a method", nil)
	}

	cc.setState(CallResolving)
	entry, err := c.registry.Resolve(call.Controller, call.Method)
	if err != nil {
		return nil, err
	}
	cc.entry = entry
	if err := cc.runGuards(); err != nil {
		return nil, err
	}

	cc.setState(CallInjecting)
	instance, err := c.container.Build(cc, entry)
	if err != nil {
		return nil, err
	}
	cc.instance = instance

	values, params, err := bindArgs(entry.shape, call.Args)
	if err != nil {
		return nil, err
	}
	cc.args, cc.params = values, params
	if c.validator != nil {
		if err := validateParams(c.validator, params); err != nil {
			return nil, err
		}
	}

	cc.setState(CallDispatching)
	return compose(entry.Middlewares, invokeHandler, c.strict())(cc)
}

func invokeHandler(cc *CallContext) (any, error) {
	shape := cc.entry.shape

	in := make([]reflect.Value, 0, len(cc.args)+2)
	if cc.instance == nil {
		in = append(in, reflect.Zero(shape.receiver))
	} else {
		in = append(in, reflect.ValueOf(cc.instance))
	}
	switch shape.context {
	case contextParamContext:
		in = append(in, reflect.ValueOf(cc.Context()))
	case contextParamCall:
		in = append(in, reflect.ValueOf(cc))
	}
	in = append(in, cc.args...)

	out := shape.fn.Call(in)

	if shape.hasError {
		if errVal := out[len(out)-1]; !errVal.IsNil() {
			return nil, errVal.Interface().(error)
		}
	}
	if shape.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

func (c *Composer) reportError(cc *CallContext, err error) {
	kind := errspkg.KindOf(err)
	fields := cc.logFields()
	fields["kind"] = string(kind)

	if errspkg.ClientVisible(kind) {
		c.Logger.Debug("Call rejected", loggingpkg.LogFields{"error": err.Error(), "kind": string(kind), "call_id": cc.id})
	} else {
		c.Logger.Error("Call failed", err, fields)
	}

	if c.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("Error hook panicked", errspkg.Panic(r), fields)
		}
	}()
	if hookErr := c.onError(cc.Context(), err, cc.Raw()); hookErr != nil {
		c.Logger.Error("Error hook failed", hookErr, fields)
	}
}

// Start runs the side HTTP servers and, when a bus is configured, the
// message-bus adapter. It blocks until ctx is cancelled.
func (c *Composer) Start(ctx context.Context) error {
	c.StartWebUIServer()
	servers := c.startHTTPServers()
	defer c.shutdownHTTPServers(servers)

	if c.Conf.BusEnabled() {
		return c.runBus(ctx)
	}
	<-ctx.Done()
	return nil
}

// RegisterHTTPHandler mounts handler on a side server listening on port.
func (c *Composer) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	c.httpServersMu.Lock()
	defer c.httpServersMu.Unlock()

	if c.httpServers == nil {
		c.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := c.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		c.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (c *Composer) startHTTPServers() []*http.Server {
	c.httpServersMu.Lock()
	defer c.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(c.httpServers))
	for port, mux := range c.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		c.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
	return servers
}

func (c *Composer) shutdownHTTPServers(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			c.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}
