package runtime

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/chord/internal/runtime/config"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
)

type greeter struct {
	prefix string
}

func newGreeter(deps Dependencies) (*greeter, error) {
	prefix, err := Dependency[string](deps, "prefix")
	if err != nil {
		return nil, err
	}
	return &greeter{prefix: prefix}, nil
}

func (g *greeter) Greet(name string) (string, error) {
	if name == "" {
		return "", errspkg.Business("NAME_REQUIRED", "name is required")
	}
	return fmt.Sprintf("%s, %s", g.prefix, name), nil
}

func (g *greeter) Add(a, b int) int {
	return a + b
}

func (g *greeter) Fail() error {
	return fmt.Errorf("database password is hunter2")
}

func (g *greeter) Panic() string {
	panic("boom")
}

func (g *greeter) Slow(ctx context.Context, d time.Duration) (string, error) {
	select {
	case <-time.After(d):
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *greeter) CallID(cc *CallContext) string {
	return cc.ID()
}

func greeterController(opts ...ControllerOption) ControllerDefinition {
	base := []ControllerOption{
		Depends("prefix"),
		RPC("greet", (*greeter).Greet),
		RPC("add", (*greeter).Add),
		RPC("fail", (*greeter).Fail),
		RPC("panic", (*greeter).Panic),
		RPC("slow", (*greeter).Slow),
		RPC("callID", (*greeter).CallID),
	}
	return NewController("Greeter", newGreeter, append(base, opts...)...)
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{Route: "/rpc"}
}

func newTestComposer(t *testing.T, defs []ControllerDefinition, deps ComposerDependencies) *Composer {
	t.Helper()
	return newTestComposerWithConfig(t, testConfig(), defs, deps)
}

func newTestComposerWithConfig(t *testing.T, conf *configpkg.Config, defs []ControllerDefinition, deps ComposerDependencies) *Composer {
	t.Helper()
	if deps.MetricsRegisterer == nil {
		deps.MetricsRegisterer = prometheus.NewRegistry()
	}
	c, err := TryNewComposer(conf, loggingpkg.NewNopLogger(), defs, deps)
	require.NoError(t, err)
	return c
}

func newCall(controller, method string, args ...any) Call {
	return Call{Controller: controller, Method: method, Args: args}
}

type recordedLog struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{level: level, msg: msg, err: err, fields: fields})
}

func (l *recordingLogger) With(loggingpkg.LogFields) loggingpkg.Logger { return l }
func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}
func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}
func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}
func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *recordingLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

// countingBackend is an in-memory cache backend that records traffic.
type countingBackend struct {
	mu      sync.Mutex
	items   map[string]any
	gets    int
	sets    int
	lastTTL time.Duration
	getErr  error
	setErr  error
}

func newCountingBackend() *countingBackend {
	return &countingBackend{items: make(map[string]any)}
}

func (b *countingBackend) Get(_ context.Context, key string) (any, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++
	if b.getErr != nil {
		return nil, false, b.getErr
	}
	v, ok := b.items[key]
	return v, ok, nil
}

func (b *countingBackend) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sets++
	b.lastTTL = ttl
	if b.setErr != nil {
		return b.setErr
	}
	b.items[key] = value
	return nil
}

func (b *countingBackend) counts() (gets, sets int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gets, b.sets
}
