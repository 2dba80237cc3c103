// Package breaker guards a cache backend with a circuit breaker so a failing
// store is skipped instead of being retried on every call.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/drblury/chord/cache"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
)

// Config holds configuration for the circuit breaker.
type Config struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests have been observed.
	FailureThreshold float64
	MinRequests      uint32
	Logger           loggingpkg.Logger
}

// DefaultConfig returns a configuration suited to a remote cache.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Backend wraps another backend. While the breaker is open, Get reports a
// miss error and Set is dropped, both without touching the inner store.
type Backend struct {
	inner cache.Backend
	cb    *gobreaker.CircuitBreaker
}

// New wraps inner. It returns errors.ErrBackendRequired when inner is nil.
func New(inner cache.Backend, cfg Config) (*Backend, error) {
	if inner == nil {
		return nil, errspkg.ErrBackendRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Cache circuit breaker state changed", loggingpkg.LogFields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return &Backend{inner: inner, cb: cb}, nil
}

type lookup struct {
	value any
	found bool
}

func (b *Backend) Get(ctx context.Context, key string) (any, bool, error) {
	res, err := b.cb.Execute(func() (any, error) {
		v, found, err := b.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return lookup{value: v, found: found}, nil
	})
	if err != nil {
		return nil, false, errspkg.CacheBackend("get", err)
	}
	l := res.(lookup)
	return l.value, l.found, nil
}

func (b *Backend) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Set(ctx, key, value, ttl)
	})
	if err != nil {
		return errspkg.CacheBackend("set", err)
	}
	return nil
}

// State reports the breaker state: "closed", "half-open" or "open".
func (b *Backend) State() string {
	return b.cb.State().String()
}
