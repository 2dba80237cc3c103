package runtime

import (
	"sync/atomic"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
)

// Next invokes the remainder of the chain.
type Next func(cc *CallContext) (any, error)

// Middleware wraps a call. It either calls next at most once and returns or
// transforms its outcome, or short-circuits with its own result.
type Middleware func(cc *CallContext, next Next) (any, error)

// contractPanic carries a contract violation raised in development mode past
// the chain's panic recovery.
type contractPanic struct {
	err *errspkg.Error
}

func (p contractPanic) Error() string {
	return p.err.Error()
}

func (p contractPanic) Unwrap() error {
	return p.err
}

// compose builds the onion: links[0] is outermost, terminal innermost.
// strict turns contract violations into panics.
func compose(links []Middleware, terminal Next, strict bool) Next {
	next := guardTerminal(terminal)
	for i := len(links) - 1; i >= 0; i-- {
		next = bindLink(links[i], next, strict)
	}
	return next
}

func bindLink(mw Middleware, next Next, strict bool) Next {
	return func(cc *CallContext) (any, error) {
		if err := cc.Context().Err(); err != nil {
			return nil, errspkg.Canceled(err)
		}

		var calls atomic.Int32
		once := func(cc *CallContext) (any, error) {
			if calls.Add(1) > 1 {
				return nil, violation(strict, "middleware called next more than once")
			}
			return next(cc)
		}

		result, err := invokeLink(mw, cc, once)
		if err == nil && result == nil && calls.Load() == 0 {
			return nil, violation(strict, "middleware returned no result without calling next")
		}
		return result, err
	}
}

func guardTerminal(terminal Next) Next {
	return func(cc *CallContext) (result any, err error) {
		if ctxErr := cc.Context().Err(); ctxErr != nil {
			return nil, errspkg.Canceled(ctxErr)
		}
		defer recoverInto(&err)
		return terminal(cc)
	}
}

func invokeLink(mw Middleware, cc *CallContext, next Next) (result any, err error) {
	defer recoverInto(&err)
	return mw(cc, next)
}

func recoverInto(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if cp, ok := r.(contractPanic); ok {
		panic(cp)
	}
	*err = errspkg.Panic(r)
}

func violation(strict bool, msg string) error {
	err := errspkg.ContractViolation("%s", msg)
	if strict {
		panic(contractPanic{err: err})
	}
	return err
}
