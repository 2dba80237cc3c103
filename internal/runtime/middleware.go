package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
)

const cacheStatusKey = "chord.cache_status"

// MiddlewareBuilder constructs a global middleware using the composer it is
// registered on. Returning a nil middleware skips the registration.
type MiddlewareBuilder func(*Composer) (Middleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Composer.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard chain used by the Composer constructor.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		LogCallsMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		TimeoutMiddleware(0),
		RateLimitMiddleware(0, 0),
		BusAdapterMiddleware(),
	}
}

// RegisterMiddleware appends the supplied middleware to the global chain.
func (c *Composer) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw Middleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(c)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	c.Use(mw)
	return nil
}

// LogCallsMiddleware logs every call at debug level. A nil logger uses the
// composer's logger.
func LogCallsMiddleware(logger loggingpkg.Logger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_calls",
		Builder: func(c *Composer) (Middleware, error) {
			l := logger
			if l == nil {
				l = c.Logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			return logCalls(l), nil
		},
	}
}

func logCalls(logger loggingpkg.Logger) Middleware {
	return func(cc *CallContext, next Next) (any, error) {
		result, err := next(cc)
		fields := cc.logFields()
		fields["duration_ms"] = time.Since(cc.StartedAt()).Milliseconds()
		if err != nil {
			fields["kind"] = string(errspkg.KindOf(err))
		}
		logger.Debug("Processed call", fields)
		return result, err
	}
}

// TracerMiddleware wraps every call in an OpenTelemetry server span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: traceCalls,
	}
}

func traceCalls(cc *CallContext, next Next) (any, error) {
	tracer := otel.Tracer("chord")
	ctx, span := tracer.Start(cc.Context(), "chord.Exec", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	cc.WithContext(ctx)

	result, err := next(cc)

	controller, method := cc.target()
	span.SetName(controller + "." + method)
	span.SetAttributes(
		attribute.String("rpc.system", "chord"),
		attribute.String("rpc.service", controller),
		attribute.String("rpc.method", method),
		attribute.String("chord.call_id", cc.ID()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errspkg.KindOf(err)))
	}
	return result, err
}

// MetricsMiddleware records call counts and latency with Prometheus when
// Config.MetricsEnabled is set, and exposes /metrics on Config.MetricsPort.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(c *Composer) (Middleware, error) {
			if !c.Conf.MetricsEnabled {
				return nil, nil
			}
			m, err := newCallMetrics(c.registerer)
			if err != nil {
				return nil, err
			}
			if c.Conf.MetricsPort > 0 {
				handler := promhttp.Handler()
				if gatherer, ok := c.registerer.(prometheus.Gatherer); ok {
					handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
				}
				c.RegisterHTTPHandler(c.Conf.MetricsPort, "/metrics", handler)
			}
			return m.middleware, nil
		},
	}
}

type callMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newCallMetrics(reg prometheus.Registerer) (*callMetrics, error) {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chord",
		Name:      "calls_total",
		Help:      "Calls handled by the composer.",
	}, []string{"controller", "method", "outcome", "cache"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chord",
		Name:      "call_duration_seconds",
		Help:      "Call latency including middleware.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"controller", "method"})

	var err error
	if calls, err = registerOrReuse(reg, calls); err != nil {
		return nil, err
	}
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	return &callMetrics{calls: calls, duration: duration}, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

func (m *callMetrics) middleware(cc *CallContext, next Next) (any, error) {
	start := time.Now()
	result, err := next(cc)

	controller, method := "unregistered", "unregistered"
	if entry := cc.Entry(); entry != nil {
		controller, method = entry.Controller, entry.Method
	}
	outcome := "success"
	if err != nil {
		outcome = string(errspkg.KindOf(err))
	}
	cacheStatus := "none"
	if v, ok := cc.Value(cacheStatusKey); ok {
		if s, ok := v.(string); ok {
			cacheStatus = s
		}
	}

	m.calls.WithLabelValues(controller, method, outcome, cacheStatus).Inc()
	m.duration.WithLabelValues(controller, method).Observe(time.Since(start).Seconds())
	return result, err
}

// TimeoutMiddleware bounds every call. A zero timeout uses Config.CallTimeout
// and registers nothing when that is unset too.
func TimeoutMiddleware(timeout time.Duration) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "timeout",
		Builder: func(c *Composer) (Middleware, error) {
			d := timeout
			if d <= 0 {
				d = c.Conf.CallTimeout
			}
			if d <= 0 {
				return nil, nil
			}
			return Timeout(d), nil
		},
	}
}

// Timeout returns a middleware that cancels the call's context after d.
func Timeout(d time.Duration) Middleware {
	return func(cc *CallContext, next Next) (any, error) {
		parent := cc.Context()
		ctx, cancel := context.WithTimeout(parent, d)
		defer cancel()
		cc.WithContext(ctx)

		result, err := next(cc)
		cc.WithContext(parent)
		if err == nil && ctx.Err() != nil {
			return nil, errspkg.Canceled(ctx.Err())
		}
		return result, err
	}
}

// RateLimitMiddleware applies a token bucket per method. Zero arguments use
// Config.RateLimitRPS and Config.RateLimitBurst.
func RateLimitMiddleware(rps float64, burst int) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "rate_limit",
		Builder: func(c *Composer) (Middleware, error) {
			r, b := rps, burst
			if r <= 0 {
				r, b = c.Conf.RateLimitRPS, c.Conf.RateLimitBurst
			}
			if r <= 0 {
				return nil, nil
			}
			return RateLimit(r, b), nil
		},
	}
}

// RateLimit rejects calls beyond rps per "Controller.method" with a
// recoverable RATE_LIMITED business error. Used globally, the check runs once
// the method is resolved.
func RateLimit(rps float64, burst int) Middleware {
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = l
		}
		return l
	}

	check := func(cc *CallContext) error {
		name := cc.entry.Name()
		if !limiterFor(name).Allow() {
			err := errspkg.Businessf("RATE_LIMITED", "rate limit exceeded for %s", name)
			err.Recoverable = true
			return err
		}
		return nil
	}

	return func(cc *CallContext, next Next) (any, error) {
		if cc.entry == nil {
			// Adapters registered after this link select the method later.
			cc.addGuard(check)
			return next(cc)
		}
		if err := check(cc); err != nil {
			return nil, err
		}
		return next(cc)
	}
}

// ValidateArgs validates bound struct arguments with v before the method runs.
// Attach it with Use on individual methods; ComposerDependencies.Validator
// applies the same check to every method.
func ValidateArgs(v *validator.Validate) Middleware {
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	return func(cc *CallContext, next Next) (any, error) {
		if err := validateParams(v, cc.Params()); err != nil {
			return nil, err
		}
		return next(cc)
	}
}

func validateParams(v *validator.Validate, params []any) error {
	for i, p := range params {
		if !isStructLike(p) {
			continue
		}
		if err := v.Struct(p); err != nil {
			var invalid *validator.InvalidValidationError
			if errors.As(err, &invalid) {
				continue
			}
			return errspkg.InvalidArgument(fmt.Sprintf("argument %d: %s", i, formatValidationError(err)), err)
		}
	}
	return nil
}

func isStructLike(p any) bool {
	if isNil(p) {
		return false
	}
	t := reflect.TypeOf(p)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

func formatValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return strings.Join(msgs, "; ")
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
