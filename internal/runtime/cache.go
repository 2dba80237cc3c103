package runtime

import (
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/drblury/chord/cache"
	configpkg "github.com/drblury/chord/internal/runtime/config"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
)

// Values stored under cacheStatusKey.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheError  = "error"
	CacheBypass = "bypass"
)

// CacheKeyFunc derives the cache key for a call.
type CacheKeyFunc func(cc *CallContext) (string, error)

// CacheMiddlewareConfig tunes CacheMiddleware. The zero value caches for
// config.DefaultCacheTTL under the default key and degrades on backend faults.
type CacheMiddlewareConfig struct {
	TTL     time.Duration
	KeyFunc CacheKeyFunc
	// Fatal makes backend faults the outcome of the call instead of a miss.
	Fatal bool
	// Coalesce lets concurrent misses for one key share a single execution.
	Coalesce bool
}

// CacheMiddleware memoizes method results in backend. A hit skips the rest of
// the chain. A miss, backend error or backend panic runs the method and then
// stores its result; write failures are logged and dropped. Nil results are
// never stored.
func CacheMiddleware(backend cache.Backend, cfg CacheMiddlewareConfig) Middleware {
	if backend == nil {
		panic(errspkg.ErrBackendRequired)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = configpkg.DefaultCacheTTL
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = DefaultCacheKey
	}
	var group *singleflight.Group
	if cfg.Coalesce {
		group = &singleflight.Group{}
	}

	return func(cc *CallContext, next Next) (any, error) {
		key, err := keyFunc(cc)
		if err != nil {
			cc.Set(cacheStatusKey, CacheBypass)
			cc.Logger().Error("Cache key derivation failed", err, cc.logFields())
			return next(cc)
		}

		value, found, err := cacheGet(cc, backend, key)
		switch {
		case err != nil:
			cc.Set(cacheStatusKey, CacheError)
			cc.Logger().Error("Cache read failed, running method", err, cc.logFields().With("cache_key", key))
			if cfg.Fatal {
				return nil, err
			}
		case found && value != nil:
			cc.Set(cacheStatusKey, CacheHit)
			return value, nil
		default:
			cc.Set(cacheStatusKey, CacheMiss)
		}

		fill := func() (any, error) {
			result, err := next(cc)
			if err != nil || isNil(result) {
				return result, err
			}
			if setErr := cacheSet(cc, backend, key, result, ttl); setErr != nil {
				cc.Logger().Error("Cache write failed", setErr, cc.logFields().With("cache_key", key))
				if cfg.Fatal {
					return nil, setErr
				}
			}
			return result, nil
		}

		if group == nil {
			return fill()
		}

		ran := false
		result, err, _ := group.Do(key, func() (any, error) {
			ran = true
			return fill()
		})
		if ran {
			return result, err
		}
		switch {
		case err == nil && isNil(result):
			// A shared nil result carries nothing to reuse.
			return next(cc)
		case errspkg.KindOf(err) == errspkg.KindCanceled && cc.Context().Err() == nil:
			// The leader's context ended, not ours.
			return fill()
		}
		return result, err
	}
}

// DefaultCacheKey returns "Controller.method:" followed by the JSON encoding
// of the bound arguments, or of the raw call arguments before binding.
func DefaultCacheKey(cc *CallContext) (string, error) {
	controller, method := cc.target()
	args := cc.Params()
	if args == nil {
		if call, ok := cc.Call(); ok {
			args = call.Args
		}
	}
	if args == nil {
		args = []any{}
	}
	data, err := jsoncodec.Marshal(args)
	if err != nil {
		return "", errspkg.InvalidArgument("arguments are not serializable", err)
	}
	return controller + "." + method + ":" + string(data), nil
}

func cacheGet(cc *CallContext, backend cache.Backend, key string) (value any, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, found, err = nil, false, errspkg.CacheBackend("get", errspkg.Panic(r))
		}
	}()
	value, found, err = backend.Get(cc.Context(), key)
	if err != nil {
		return nil, false, asCacheError("get", err)
	}
	return value, found, nil
}

func cacheSet(cc *CallContext, backend cache.Backend, key string, value any, ttl time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errspkg.CacheBackend("set", errspkg.Panic(r))
		}
	}()
	if err := backend.Set(cc.Context(), key, value, ttl); err != nil {
		return asCacheError("set", err)
	}
	return nil
}

func asCacheError(op string, err error) error {
	if errspkg.KindOf(err) == errspkg.KindCacheBackend {
		return err
	}
	return errspkg.CacheBackend(op, err)
}

// CacheRegistration applies CacheMiddleware to every method. A zero TTL uses
// Config.DefaultCacheTTL.
func CacheRegistration(backend cache.Backend, cfg CacheMiddlewareConfig) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "cache",
		Builder: func(c *Composer) (Middleware, error) {
			if backend == nil {
				return nil, errspkg.ErrBackendRequired
			}
			if cfg.TTL <= 0 {
				cfg.TTL = c.Conf.CacheTTL()
			}
			c.Logger.Debug("Registering global cache", loggingpkg.LogFields{"ttl": cfg.TTL.String()})
			return CacheMiddleware(backend, cfg), nil
		},
	}
}
