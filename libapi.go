package chord

import (
	"github.com/drblury/chord/cache"
	"github.com/drblury/chord/cache/breaker"
	"github.com/drblury/chord/cache/memory"
	runtimepkg "github.com/drblury/chord/internal/runtime"
	configpkg "github.com/drblury/chord/internal/runtime/config"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	idspkg "github.com/drblury/chord/internal/runtime/ids"
	jsoncodec "github.com/drblury/chord/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
	metadatapkg "github.com/drblury/chord/internal/runtime/metadata"
	"github.com/drblury/chord/transport"
	_ "github.com/drblury/chord/transport/transports"
)

type (
	Config               = configpkg.Config
	Composer             = runtimepkg.Composer
	ComposerDependencies = runtimepkg.ComposerDependencies
	ErrorHook            = runtimepkg.ErrorHook

	Call        = runtimepkg.Call
	CallContext = runtimepkg.CallContext
	CallState   = runtimepkg.CallState
	Envelope    = runtimepkg.Envelope
	RequestEcho = runtimepkg.RequestEcho
	WireRequest = runtimepkg.WireRequest

	ErrorDescriptor = runtimepkg.ErrorDescriptor
	Error           = errspkg.Error
	ErrorKind       = errspkg.Kind

	ControllerDefinition = runtimepkg.ControllerDefinition
	ControllerOption     = runtimepkg.ControllerOption
	MethodOption         = runtimepkg.MethodOption
	Dependencies         = runtimepkg.Dependencies

	Injector     = runtimepkg.Injector
	InjectorFunc = runtimepkg.InjectorFunc
	ResolverFunc = runtimepkg.ResolverFunc

	Middleware             = runtimepkg.Middleware
	Next                   = runtimepkg.Next
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	CacheBackend          = cache.Backend
	CacheFuncs            = cache.Funcs
	CacheKeyFunc          = runtimepkg.CacheKeyFunc
	CacheMiddlewareConfig = runtimepkg.CacheMiddlewareConfig
	BreakerConfig         = breaker.Config

	CallInfo  = runtimepkg.CallInfo
	CallHooks = runtimepkg.CallHooks

	MethodInfo  = runtimepkg.MethodInfo
	MethodStats = runtimepkg.MethodStats

	Metadata = metadatapkg.Metadata

	Logger    = loggingpkg.Logger
	LogFields = loggingpkg.LogFields

	ConfigValidationError = errspkg.ConfigValidationError

	TransportConfig       = transport.Config
	TransportBuilder      = transport.Builder
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

var (
	NewComposer    = runtimepkg.NewComposer
	TryNewComposer = runtimepkg.TryNewComposer
	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	RPC       = runtimepkg.RPC
	Use       = runtimepkg.Use
	Depends   = runtimepkg.Depends
	DependsOn = runtimepkg.DependsOn

	ParseMethod       = runtimepkg.ParseMethod
	DecodeWireRequest = runtimepkg.DecodeWireRequest
	EncodeEnvelope    = runtimepkg.EncodeEnvelope

	DefaultMiddlewares   = runtimepkg.DefaultMiddlewares
	LogCallsMiddleware   = runtimepkg.LogCallsMiddleware
	TracerMiddleware     = runtimepkg.TracerMiddleware
	MetricsMiddleware    = runtimepkg.MetricsMiddleware
	TimeoutMiddleware    = runtimepkg.TimeoutMiddleware
	RateLimitMiddleware  = runtimepkg.RateLimitMiddleware
	BusAdapterMiddleware = runtimepkg.BusAdapterMiddleware
	Timeout              = runtimepkg.Timeout
	RateLimit            = runtimepkg.RateLimit
	ValidateArgs         = runtimepkg.ValidateArgs
	BusAdapter           = runtimepkg.BusAdapter

	CacheMiddleware      = runtimepkg.CacheMiddleware
	CacheRegistration    = runtimepkg.CacheRegistration
	DefaultCacheKey      = runtimepkg.DefaultCacheKey
	NewMemoryCache       = memory.New
	NewBreakerCache      = breaker.New
	DefaultBreakerConfig = breaker.DefaultConfig

	CallHooksMiddleware = runtimepkg.CallHooksMiddleware
	LoggingHooks        = runtimepkg.LoggingHooks
	MetricsHooks        = runtimepkg.MetricsHooks
	AlertingHooks       = runtimepkg.AlertingHooks

	Business             = errspkg.Business
	Businessf            = errspkg.Businessf
	WrapBusiness         = errspkg.WrapBusiness
	InvalidArgument      = errspkg.InvalidArgument
	KindOf               = errspkg.KindOf
	IsRecoverable        = errspkg.IsRecoverable
	HTTPStatus           = errspkg.HTTPStatus
	NewSlogLogger        = loggingpkg.NewSlogLogger
	NewNopLogger         = loggingpkg.NewNopLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter
	NewMetadata          = metadatapkg.New
	CreateULID           = idspkg.CreateULID
	NewCorrelationID     = idspkg.CorrelationID
	DefaultTransports    = transport.DefaultRegistry
	RegisterTransport    = transport.RegisterWithCapabilities
	NewTransportRegistry = transport.NewRegistry

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrComposerRequired       = errspkg.ErrComposerRequired
	ErrControllerNameRequired = errspkg.ErrControllerNameRequired
	ErrMethodNameRequired     = errspkg.ErrMethodNameRequired
	ErrHandlerRequired        = errspkg.ErrHandlerRequired
	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrBackendRequired        = errspkg.ErrBackendRequired
	ErrUnresolved             = errspkg.ErrUnresolved
	ErrConnectionRequired     = errspkg.ErrConnectionRequired
	ErrSubjectRequired        = errspkg.ErrSubjectRequired
	ErrDrainTimeout           = errspkg.ErrDrainTimeout
)

// Error kinds reported in Envelope.Error.Kind.
const (
	KindConfiguration        = errspkg.KindConfiguration
	KindDependencyUnresolved = errspkg.KindDependencyUnresolved
	KindBusiness             = errspkg.KindBusiness
	KindContractViolation    = errspkg.KindContractViolation
	KindCacheBackend         = errspkg.KindCacheBackend
	KindNotFound             = errspkg.KindNotFound
	KindInvalidArgument      = errspkg.KindInvalidArgument
	KindCanceled             = errspkg.KindCanceled
	KindUnknown              = errspkg.KindUnknown
)

// NewController declares a controller named name whose instances are built
// by factory from the resolved dependencies.
func NewController[T any](name string, factory func(Dependencies) (T, error), opts ...ControllerOption) ControllerDefinition {
	return runtimepkg.NewController(name, factory, opts...)
}

// Dependency reads a resolved dependency as T.
func Dependency[T any](deps Dependencies, field string) (T, error) {
	return runtimepkg.Dependency[T](deps, field)
}
