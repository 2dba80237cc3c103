// Package memory provides an in-process cache backend with per-entry TTLs.
package memory

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Backend is a cache.Backend kept in process memory. Expired entries are
// never returned; Start evicts them in the background.
type Backend struct {
	items *ttlcache.Cache[string, any]
}

// Option configures a Backend.
type Option func(*settings)

type settings struct {
	capacity   uint64
	defaultTTL time.Duration
}

// WithCapacity bounds the number of entries; the least recently used entry is
// evicted first.
func WithCapacity(n uint64) Option {
	return func(s *settings) { s.capacity = n }
}

// WithDefaultTTL is used for Set calls with a zero ttl.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *settings) { s.defaultTTL = ttl }
}

// New returns an empty Backend.
func New(opts ...Option) *Backend {
	s := settings{defaultTTL: time.Minute}
	for _, opt := range opts {
		opt(&s)
	}

	cacheOpts := []ttlcache.Option[string, any]{
		ttlcache.WithTTL[string, any](s.defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, any](),
	}
	if s.capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, any](s.capacity))
	}
	return &Backend{items: ttlcache.New(cacheOpts...)}
}

// Start launches the expiry loop and returns. The loop stops when ctx ends.
func (b *Backend) Start(ctx context.Context) {
	go func() {
		if ctx.Err() == nil {
			b.items.Start()
		}
	}()
	go func() {
		<-ctx.Done()
		b.items.Stop()
	}()
}

func (b *Backend) Get(_ context.Context, key string) (any, bool, error) {
	item := b.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (b *Backend) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	b.items.Set(key, value, ttl)
	return nil
}

// Delete drops key if present.
func (b *Backend) Delete(key string) {
	b.items.Delete(key)
}

// Len reports the number of stored entries, expired ones included until evicted.
func (b *Backend) Len() int {
	return b.items.Len()
}
