// Package chord composes request handlers into a single dispatcher.
//
// Controllers are declared with NewController and expose methods through RPC.
// A Composer registers them, resolves each call to "Controller.method", builds
// a fresh controller instance with its declared dependencies injected, runs
// the global and per-method middleware chains and shapes every outcome into
// an Envelope:
//
//	{"success": true,  "result": ..., "request": {"id": "...", ...}}
//	{"success": false, "error": {"kind": "business", "code": "...", "message": "..."}}
//
// Business errors keep their message. Every other failure is reported with a
// generic message; the detail goes to the logger and the ErrorHook.
//
// # Adapters
//
// Transport adapters are middleware that extract the call from a platform
// event. The bus adapter ships with the default chain and consumes
// Config.RequestTopic over any bundled transport (kafka, rabbitmq, nats,
// http, aws or the in-process channel), all registered by importing chord.
// Code that uses internal packages directly imports transport/transports for
// the same effect. adapter/httpadapter and adapter/natsadapter serve HTTP and NATS
// request/reply directly.
//
// # Middleware
//
// The default chain logs calls, traces them with OpenTelemetry, records
// Prometheus metrics and applies Config.CallTimeout and the configured rate
// limit. CacheMiddleware memoizes results in any CacheBackend and degrades to
// a miss when the backend fails. Use adds global links at runtime; chord.Use
// inside RPC adds links to a single method.
//
// # Hooks and introspection
//
// CallHooksMiddleware reports call start, completion and failure.
// Composer.Methods and the web UI at /api/methods expose per-method latency,
// throughput and error breakdowns.
package chord
