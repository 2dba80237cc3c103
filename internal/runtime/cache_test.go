package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chord/cache"
	configpkg "github.com/drblury/chord/internal/runtime/config"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
)

type counter struct {
	calls *atomic.Int32
}

func (c counter) Next(n int) *int {
	c.calls.Add(1)
	out := n + 1
	return &out
}

func (c counter) Nothing(n int) *int {
	c.calls.Add(1)
	return nil
}

func (c counter) Wait(n int) int {
	c.calls.Add(1)
	time.Sleep(50 * time.Millisecond)
	return n
}

func cachedComposer(t *testing.T, backend cache.Backend, cfg CacheMiddlewareConfig) (*Composer, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	mw := CacheMiddleware(backend, cfg)
	def := NewController("Counter", func(Dependencies) (counter, error) {
		return counter{calls: calls}, nil
	},
		RPC("next", counter.Next, Use(mw)),
		RPC("nothing", counter.Nothing, Use(mw)),
		RPC("wait", counter.Wait, Use(mw)),
	)
	return newTestComposer(t, []ControllerDefinition{def}, ComposerDependencies{}), calls
}

func TestCacheHitSkipsMethod(t *testing.T) {
	backend := newCountingBackend()
	c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{TTL: time.Minute})

	first := c.Exec(context.Background(), newCall("Counter", "next", 1))
	second := c.Exec(context.Background(), newCall("Counter", "next", 1))

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, 2, *first.Result.(*int))
	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, int32(1), calls.Load())
	gets, sets := backend.counts()
	assert.Equal(t, 2, gets)
	assert.Equal(t, 1, sets)
	assert.Equal(t, time.Minute, backend.lastTTL)
}

func TestCacheKeysDifferByArguments(t *testing.T) {
	backend := newCountingBackend()
	c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{})

	c.Exec(context.Background(), newCall("Counter", "next", 1))
	c.Exec(context.Background(), newCall("Counter", "next", 2))

	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, backend.items, "Counter.next:[1]")
	assert.Contains(t, backend.items, "Counter.next:[2]")
	assert.Equal(t, configpkg.DefaultCacheTTL, backend.lastTTL)
}

func TestCacheAlwaysMissRunsMethodAndStores(t *testing.T) {
	var stored []any
	backend := cache.Funcs{
		GetFunc: func(ctx context.Context, key string) (any, bool, error) { return nil, false, nil },
		SetFunc: func(ctx context.Context, key string, value any, ttl time.Duration) error {
			stored = append(stored, value)
			return nil
		},
	}
	c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{})

	env := c.Exec(context.Background(), newCall("Counter", "next", 2))

	require.True(t, env.Success)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, stored, 1)
	assert.Equal(t, 3, *stored[0].(*int))
}

func TestCacheGetFailureDegradesToMiss(t *testing.T) {
	tests := []struct {
		name string
		get  func(ctx context.Context, key string) (any, bool, error)
	}{
		{
			name: "error",
			get: func(ctx context.Context, key string) (any, bool, error) {
				return nil, false, errors.New("connection reset")
			},
		},
		{
			name: "panic",
			get: func(ctx context.Context, key string) (any, bool, error) {
				panic("driver bug")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sets := 0
			backend := cache.Funcs{
				GetFunc: tt.get,
				SetFunc: func(ctx context.Context, key string, value any, ttl time.Duration) error {
					sets++
					return nil
				},
			}
			c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{})

			env := c.Exec(context.Background(), newCall("Counter", "next", 1))

			require.True(t, env.Success, "%+v", env.Error)
			assert.Equal(t, 2, *env.Result.(*int))
			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, 1, sets)
		})
	}
}

func TestCacheSetFailureIsAbsorbed(t *testing.T) {
	backend := cache.Funcs{
		SetFunc: func(ctx context.Context, key string, value any, ttl time.Duration) error {
			panic("disk full")
		},
	}
	c, _ := cachedComposer(t, backend, CacheMiddlewareConfig{})

	env := c.Exec(context.Background(), newCall("Counter", "next", 1))

	require.True(t, env.Success)
	assert.Equal(t, 2, *env.Result.(*int))
}

func TestCacheFatalMode(t *testing.T) {
	backend := newCountingBackend()
	backend.getErr = errors.New("connection reset")
	c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{Fatal: true})

	env := c.Exec(context.Background(), newCall("Counter", "next", 1))

	assert.False(t, env.Success)
	assert.Equal(t, errspkg.KindCacheBackend, env.Kind())
	assert.Equal(t, "CACHE_UNAVAILABLE", env.Error.Code)
	assert.Equal(t, genericFaultMessage, env.Error.Message)
	assert.Zero(t, calls.Load())
}

func TestCacheNeverStoresNil(t *testing.T) {
	backend := newCountingBackend()
	c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{})

	first := c.Exec(context.Background(), newCall("Counter", "nothing", 1))
	second := c.Exec(context.Background(), newCall("Counter", "nothing", 1))

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.Equal(t, int32(2), calls.Load())
	_, sets := backend.counts()
	assert.Zero(t, sets)
}

func TestCacheCustomKey(t *testing.T) {
	backend := newCountingBackend()
	c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{
		KeyFunc: func(cc *CallContext) (string, error) { return "shared", nil },
	})

	c.Exec(context.Background(), newCall("Counter", "next", 1))
	env := c.Exec(context.Background(), newCall("Counter", "next", 5))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, *env.Result.(*int))
}

func TestCacheKeyFailureBypassesCache(t *testing.T) {
	backend := newCountingBackend()
	c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{
		KeyFunc: func(cc *CallContext) (string, error) { return "", errors.New("no key") },
	})

	env := c.Exec(context.Background(), newCall("Counter", "next", 1))

	require.True(t, env.Success)
	assert.Equal(t, int32(1), calls.Load())
	gets, _ := backend.counts()
	assert.Zero(t, gets)
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	backend := newCountingBackend()
	c, calls := cachedComposer(t, backend, CacheMiddlewareConfig{Coalesce: true})

	var wg sync.WaitGroup
	results := make([]Envelope, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.Exec(context.Background(), newCall("Counter", "wait", 9))
		}()
	}
	wg.Wait()

	for _, env := range results {
		require.True(t, env.Success)
		assert.Equal(t, 9, env.Result)
	}
	assert.Less(t, calls.Load(), int32(len(results)))
}

func TestCacheCoalescedFollowerOutlivesCanceledLeader(t *testing.T) {
	mw := CacheMiddleware(newCountingBackend(), CacheMiddlewareConfig{Coalesce: true})
	def := NewController("Slow", func(Dependencies) (*greeter, error) { return &greeter{}, nil },
		RPC("wait", (*greeter).Slow, Use(mw)),
	)
	c := newTestComposer(t, []ControllerDefinition{def}, ComposerDependencies{})

	leaderCtx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	var leader Envelope
	done := make(chan struct{})
	go func() {
		defer close(done)
		leader = c.Exec(leaderCtx, newCall("Slow", "wait", 150*time.Millisecond))
	}()

	time.Sleep(15 * time.Millisecond)
	follower := c.Exec(context.Background(), newCall("Slow", "wait", 150*time.Millisecond))
	<-done

	assert.Equal(t, errspkg.KindCanceled, leader.Kind())
	require.True(t, follower.Success, "%+v", follower.Error)
	assert.Equal(t, "done", follower.Result)
}

func TestCacheMiddlewareRequiresBackend(t *testing.T) {
	assert.PanicsWithError(t, errspkg.ErrBackendRequired.Error(), func() {
		CacheMiddleware(nil, CacheMiddlewareConfig{})
	})
}

func TestCacheRegistrationUsesConfiguredTTL(t *testing.T) {
	backend := newCountingBackend()
	conf := testConfig()
	conf.DefaultCacheTTL = 5 * time.Second
	c := newTestComposerWithConfig(t, conf, []ControllerDefinition{greeterController()}, ComposerDependencies{
		Middlewares: []MiddlewareRegistration{CacheRegistration(backend, CacheMiddlewareConfig{})},
	})
	c.Provide("prefix", "Hello")

	c.Exec(context.Background(), newCall("Greeter", "greet", "Ada"))
	env := c.Exec(context.Background(), newCall("Greeter", "greet", "Ada"))

	require.True(t, env.Success)
	assert.Equal(t, "Hello, Ada", env.Result)
	assert.Equal(t, 5*time.Second, backend.lastTTL)
	assert.Contains(t, backend.items, `Greeter.greet:["Ada"]`)
	_, sets := backend.counts()
	assert.Equal(t, 1, sets)
}
