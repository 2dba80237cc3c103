package runtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
)

func TestDefaultMiddlewaresNames(t *testing.T) {
	var names []string
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{"log_calls", "tracer", "metrics", "timeout", "rate_limit", "bus_adapter"}, names)
}

func TestRegisterMiddlewareBuilderError(t *testing.T) {
	c := greeterComposer(t, ComposerDependencies{DisableDefaultMiddlewares: true})

	err := c.RegisterMiddleware(MiddlewareRegistration{
		Name:    "broken",
		Builder: func(*Composer) (Middleware, error) { return nil, errors.New("no") },
	})
	assert.EqualError(t, err, "no")

	err = c.RegisterMiddleware(MiddlewareRegistration{
		Name:    "skipped",
		Builder: func(*Composer) (Middleware, error) { return nil, nil },
	})
	assert.NoError(t, err)
	assert.Empty(t, *c.middlewares.Load())
}

func TestLogCallsMiddleware(t *testing.T) {
	logger := &recordingLogger{}
	c := greeterComposer(t, ComposerDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares:               []MiddlewareRegistration{LogCallsMiddleware(logger)},
	})

	c.Exec(context.Background(), newCall("Greeter", "add", 1, 2))

	require.Contains(t, logger.messages("debug"), "Processed call")
	logger.mu.Lock()
	defer logger.mu.Unlock()
	last := logger.entries[len(logger.entries)-1]
	assert.Equal(t, "Greeter", last.fields["controller"])
	assert.Equal(t, "add", last.fields["method"])
}

func TestMetricsMiddlewareCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	conf := testConfig()
	conf.MetricsEnabled = true
	c := newTestComposerWithConfig(t, conf, []ControllerDefinition{greeterController()}, ComposerDependencies{
		MetricsRegisterer: reg,
	})
	c.Provide("prefix", "Hello")

	c.Exec(context.Background(), newCall("Greeter", "greet", "Ada"))
	c.Exec(context.Background(), newCall("Greeter", "greet", ""))

	m, err := newCallMetrics(reg)
	require.NoError(t, err, "collectors are reused once registered")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("Greeter", "greet", "success", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("Greeter", "greet", "business", "none")))
}

func TestMetricsEndpointRegistered(t *testing.T) {
	conf := testConfig()
	conf.MetricsEnabled = true
	conf.MetricsPort = 9464
	c := newTestComposerWithConfig(t, conf, []ControllerDefinition{greeterController()}, ComposerDependencies{})

	mux := c.httpServers[9464]
	require.NotNil(t, mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTimeoutRestoresParentContext(t *testing.T) {
	cc := newTestCallContext(context.Background())
	parent := cc.Context()

	result, err := Timeout(time.Second)(cc, func(cc *CallContext) (any, error) {
		_, hasDeadline := cc.Context().Deadline()
		assert.True(t, hasDeadline)
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, parent, cc.Context())
}

func TestTimeoutReportsExpiry(t *testing.T) {
	cc := newTestCallContext(context.Background())

	_, err := Timeout(5*time.Millisecond)(cc, func(cc *CallContext) (any, error) {
		<-cc.Context().Done()
		return "late", nil
	})

	assert.Equal(t, errspkg.KindCanceled, errspkg.KindOf(err))
}

func TestRateLimitIsRecoverableBusinessError(t *testing.T) {
	c := greeterComposer(t, ComposerDependencies{DisableDefaultMiddlewares: true})
	def := NewController("Limited", func(Dependencies) (*greeter, error) { return &greeter{}, nil },
		RPC("add", (*greeter).Add, Use(RateLimit(0.001, 1))),
	)
	require.NoError(t, c.Register(def))

	assert.True(t, c.Exec(context.Background(), newCall("Limited", "add", 1, 1)).Success)

	var captured error
	c.onError = func(ctx context.Context, err error, raw any) error {
		captured = err
		return nil
	}
	env := c.Exec(context.Background(), newCall("Limited", "add", 1, 1))
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
	assert.True(t, errspkg.IsRecoverable(captured))
}

func TestValidateArgsPerMethod(t *testing.T) {
	def := NewController[*accounts]("Accounts", nil,
		RPC("signup", (*accounts).Signup, Use(ValidateArgs(nil))),
	)
	c := newTestComposer(t, []ControllerDefinition{def}, ComposerDependencies{})

	env := c.Exec(context.Background(), newCall("Accounts", "signup", map[string]any{}))

	assert.Equal(t, errspkg.KindInvalidArgument, env.Kind())
	assert.Equal(t, "argument 0: email is required", env.Error.Message)
}

func TestFormatFieldErrors(t *testing.T) {
	type input struct {
		Name  string `validate:"required"`
		Age   int    `validate:"min=18"`
		Tags  []int  `validate:"max=1"`
		Email string `validate:"email"`
		Plan  string `validate:"oneof=free pro"`
		Code  string `validate:"len=3"`
	}
	v := validator.New()
	err := v.Struct(input{Age: 3, Tags: []int{1, 2}, Email: "x", Plan: "gold", Code: "a"})
	require.Error(t, err)

	msg := formatValidationError(err)
	for _, want := range []string{
		"name is required",
		"age must be at least 18",
		"tags must be at most 1",
		"email must be a valid email",
		"plan must be one of: free pro",
		"code is invalid",
	} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}

	assert.Equal(t, "plain", formatValidationError(errors.New("plain")))
}
