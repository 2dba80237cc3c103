/*
Package runtime implements the chord composition engine.

# Architecture Overview

A Composer owns a Registry of controller methods and a Container of
injectables. Every call to Exec builds a CallContext, runs it through the
global middleware chain and the method's own middleware, invokes the method
and normalizes the outcome into an Envelope. Exec never returns an error; the
Envelope carries success or a classified failure.

# Package Structure

## Composer (composer.go)

The Composer wires together:
  - Method registry and controller construction
  - Global middleware snapshot, replaced copy-on-write by Use
  - Error hook and argument validation
  - Side HTTP servers for metrics and the introspection API
  - The message-bus adapter started by Start

## Controllers (controller.go, registration.go, container.go)

Controllers are declared with NewController, RPC and Depends. Registration
validates handler signatures up front; the Container resolves declared
injections for every call from call-scoped values, process-wide providers and
Injector sources, in that order.

## Middleware (chain.go, middleware.go, cache.go, hooks.go)

Middleware wraps a call as an onion: global links outermost in registration
order, then method links, then the method. Each link may call next at most
once. Built-in middleware covers logging, tracing, Prometheus metrics,
timeouts, rate limiting, validation, result caching and lifecycle hooks.

## Adapters (bus.go, wire.go)

Adapters are middleware that select the target method from the raw platform
event. BusAdapter reads WireRequest payloads from Watermill messages; the
HTTP and NATS adapters live in the adapter packages.

## Outcomes (normalize.go, models.go)

Normalize maps any result or error to an Envelope. Failures of kinds the
caller cannot act on are reported with a generic message. MethodStats keeps
latency, throughput and error counters per method for the web UI.

# Subpackages

  - config: configuration loading and validation
  - errors: sentinel errors and the error taxonomy
  - ids: ULID correlation identifiers
  - jsoncodec: JSON encoding
  - logging: structured logging on slog and Watermill
  - metadata: call metadata helpers
*/
package runtime
