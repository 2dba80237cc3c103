package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
	metadatapkg "github.com/drblury/chord/internal/runtime/metadata"
)

// CallInfo describes a call to lifecycle hooks.
type CallInfo struct {
	// ID is the correlation ID of the call.
	ID         string
	Controller string
	Method     string
	Metadata   metadatapkg.Metadata
	Context    context.Context
	StartedAt  time.Time
	// Duration is only set in OnCallDone and OnCallError.
	Duration time.Duration
}

// CallHooks defines callbacks for call lifecycle events. Nil hooks are skipped.
type CallHooks struct {
	// OnCallStart runs before the rest of the chain.
	OnCallStart func(info CallInfo)

	// OnCallDone runs after the call succeeded.
	OnCallDone func(info CallInfo)

	// OnCallError runs after the call failed.
	OnCallError func(info CallInfo, err error)
}

// Merge combines two CallHooks; hooks from other run after those of h.
func (h CallHooks) Merge(other CallHooks) CallHooks {
	return CallHooks{
		OnCallStart: chainInfoHooks(h.OnCallStart, other.OnCallStart),
		OnCallDone:  chainInfoHooks(h.OnCallDone, other.OnCallDone),
		OnCallError: chainErrorHooks(h.OnCallError, other.OnCallError),
	}
}

func chainInfoHooks(a, b func(CallInfo)) func(CallInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info CallInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(CallInfo, error)) func(CallInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info CallInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

// CallHooksMiddleware registers hooks as a global middleware. Register it
// after adapters so the call target is known when OnCallStart runs.
func CallHooksMiddleware(hooks CallHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "call_hooks",
		Middleware: callHooks(hooks),
	}
}

func callHooks(hooks CallHooks) Middleware {
	return func(cc *CallContext, next Next) (any, error) {
		controller, method := cc.target()
		info := CallInfo{
			ID:         cc.ID(),
			Controller: controller,
			Method:     method,
			Metadata:   cc.Metadata(),
			Context:    cc.Context(),
			StartedAt:  time.Now(),
		}
		if hooks.OnCallStart != nil {
			hooks.OnCallStart(info)
		}

		result, err := next(cc)

		info.Duration = time.Since(info.StartedAt)
		if err != nil {
			if hooks.OnCallError != nil {
				hooks.OnCallError(info, err)
			}
		} else if hooks.OnCallDone != nil {
			hooks.OnCallDone(info)
		}
		return result, err
	}
}

// LoggingHooks returns hooks that log call lifecycle events.
func LoggingHooks(logger loggingpkg.Logger) CallHooks {
	return CallHooks{
		OnCallStart: func(info CallInfo) {
			logger.Info("Call started", loggingpkg.LogFields{
				"call_id":    info.ID,
				"controller": info.Controller,
				"method":     info.Method,
			})
		},
		OnCallDone: func(info CallInfo) {
			logger.Info("Call completed", loggingpkg.LogFields{
				"call_id":     info.ID,
				"controller":  info.Controller,
				"method":      info.Method,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
		OnCallError: func(info CallInfo, err error) {
			logger.Error("Call failed", err, loggingpkg.LogFields{
				"call_id":     info.ID,
				"controller":  info.Controller,
				"method":      info.Method,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that forward call events to counters.
func MetricsHooks(onStart, onDone, onError func(controller, method string)) CallHooks {
	return CallHooks{
		OnCallStart: func(info CallInfo) {
			if onStart != nil {
				onStart(info.Controller, info.Method)
			}
		},
		OnCallDone: func(info CallInfo) {
			if onDone != nil {
				onDone(info.Controller, info.Method)
			}
		},
		OnCallError: func(info CallInfo, err error) {
			if onError != nil {
				onError(info.Controller, info.Method)
			}
		},
	}
}

// AlertingHooks returns hooks that only fire on failed calls.
func AlertingHooks(alertFunc func(info CallInfo, err error)) CallHooks {
	return CallHooks{
		OnCallError: alertFunc,
	}
}
