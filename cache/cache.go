// Package cache defines the backend contract consumed by the cache middleware.
package cache

import (
	"context"
	"time"
)

// Backend stores call results. Both operations may fail independently; the
// cache middleware treats any failure as a miss on Get and ignores it on Set.
// Implementations own their synchronisation.
type Backend interface {
	Get(ctx context.Context, key string) (value any, found bool, err error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Funcs adapts two functions to the Backend interface. A nil GetFunc always
// misses and a nil SetFunc drops every write.
type Funcs struct {
	GetFunc func(ctx context.Context, key string) (any, bool, error)
	SetFunc func(ctx context.Context, key string, value any, ttl time.Duration) error
}

func (f Funcs) Get(ctx context.Context, key string) (any, bool, error) {
	if f.GetFunc == nil {
		return nil, false, nil
	}
	return f.GetFunc(ctx, key)
}

func (f Funcs) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if f.SetFunc == nil {
		return nil
	}
	return f.SetFunc(ctx, key, value, ttl)
}
