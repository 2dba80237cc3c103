package runtime

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
	metadatapkg "github.com/drblury/chord/internal/runtime/metadata"
)

// CallState tracks a call through the dispatcher.
type CallState int

const (
	CallReceived CallState = iota
	CallResolving
	CallInjecting
	CallDispatching
	CallNormalizing
	CallCompleted
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallReceived:
		return "received"
	case CallResolving:
		return "resolving"
	case CallInjecting:
		return "injecting"
	case CallDispatching:
		return "dispatching"
	case CallNormalizing:
		return "normalizing"
	case CallCompleted:
		return "completed"
	case CallFailed:
		return "failed"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallCompleted || s == CallFailed
}

// Call identifies the target method and its positional arguments.
type Call struct {
	Controller string
	Method     string
	Args       []any
}

// Name returns the qualified "Controller.method" form.
func (c Call) Name() string {
	return c.Controller + "." + c.Method
}

// ParseMethod splits a qualified "Controller.method" name.
func ParseMethod(qualified string) (controller, method string, err error) {
	idx := strings.LastIndex(qualified, ".")
	if idx <= 0 || idx == len(qualified)-1 {
		return "", "", errspkg.InvalidArgument(fmt.Sprintf("method %q must be of the form Controller.method", qualified), nil)
	}
	return qualified[:idx], qualified[idx+1:], nil
}

// CallContext is created fresh for every Exec and discarded when the envelope
// has been produced. It is owned by the goroutine running the call and is not
// safe for concurrent use.
type CallContext struct {
	ctx       context.Context
	raw       any
	call      *Call
	id        string
	meta      metadatapkg.Metadata
	provided  map[string]any
	values    map[string]any
	entry     *MethodEntry
	instance  any
	params    []any
	args      []reflect.Value
	state     CallState
	logger    loggingpkg.Logger
	startedAt time.Time

	// guards run once the method is resolved, for middleware that needs the
	// target but sits outside the adapter that selects it.
	guards []func(cc *CallContext) error
}

func newCallContext(ctx context.Context, raw any, id string, logger loggingpkg.Logger) *CallContext {
	return &CallContext{
		ctx:       ctx,
		raw:       raw,
		id:        id,
		meta:      metadatapkg.Metadata{},
		state:     CallReceived,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Context returns the call's context.
func (cc *CallContext) Context() context.Context {
	return cc.ctx
}

// WithContext replaces the call's context for every downstream link.
func (cc *CallContext) WithContext(ctx context.Context) {
	if ctx != nil {
		cc.ctx = ctx
	}
}

// Raw returns the platform event handed to Exec.
func (cc *CallContext) Raw() any {
	return cc.raw
}

// Call returns the selected call, if an adapter has extracted one.
func (cc *CallContext) Call() (Call, bool) {
	if cc.call == nil {
		return Call{}, false
	}
	return *cc.call, true
}

// SetCall records the extracted call. Adapters closer to the dispatcher
// overwrite selections made by outer adapters.
func (cc *CallContext) SetCall(call Call) {
	cc.call = &call
}

// ID returns the correlation identifier echoed in the envelope.
func (cc *CallContext) ID() string {
	return cc.id
}

// SetID overrides the correlation identifier, for example with a request id
// supplied by the transport.
func (cc *CallContext) SetID(id string) {
	if id != "" {
		cc.id = id
	}
}

func (cc *CallContext) Metadata() metadatapkg.Metadata {
	return cc.meta
}

func (cc *CallContext) SetMetadata(key, value string) {
	cc.meta[key] = value
}

// Provide makes a value available to injection declarations for this call only.
func (cc *CallContext) Provide(token string, value any) {
	if cc.provided == nil {
		cc.provided = make(map[string]any)
	}
	cc.provided[token] = value
}

func (cc *CallContext) provision(token string) (any, bool) {
	v, ok := cc.provided[token]
	if !ok || isNil(v) {
		return nil, false
	}
	return v, true
}

// Set attaches middleware state for downstream links.
func (cc *CallContext) Set(key string, value any) {
	if cc.values == nil {
		cc.values = make(map[string]any)
	}
	cc.values[key] = value
}

// Value reads state attached with Set.
func (cc *CallContext) Value(key string) (any, bool) {
	v, ok := cc.values[key]
	return v, ok
}

// Entry returns the resolved method, or nil before resolution.
func (cc *CallContext) Entry() *MethodEntry {
	return cc.entry
}

// Instance returns the controller instance built for this call.
func (cc *CallContext) Instance() any {
	return cc.instance
}

// Params returns the bound arguments, or nil before binding.
func (cc *CallContext) Params() []any {
	return cc.params
}

func (cc *CallContext) State() CallState {
	return cc.state
}

func (cc *CallContext) setState(state CallState) {
	if cc.state.Terminal() {
		return
	}
	cc.state = state
}

func (cc *CallContext) Logger() loggingpkg.Logger {
	return cc.logger
}

func (cc *CallContext) StartedAt() time.Time {
	return cc.startedAt
}

// target names the call for logs and metrics before and after resolution.
func (cc *CallContext) target() (string, string) {
	if cc.entry != nil {
		return cc.entry.Controller, cc.entry.Method
	}
	if cc.call != nil {
		return cc.call.Controller, cc.call.Method
	}
	return "", ""
}

func (cc *CallContext) echo() *RequestEcho {
	controller, method := cc.target()
	return &RequestEcho{ID: cc.id, Controller: controller, Method: method}
}

func (cc *CallContext) logFields() loggingpkg.LogFields {
	controller, method := cc.target()
	return loggingpkg.LogFields{
		"call_id":    cc.id,
		"controller": controller,
		"method":     method,
		"state":      cc.state.String(),
	}
}

func (cc *CallContext) addGuard(fn func(cc *CallContext) error) {
	cc.guards = append(cc.guards, fn)
}

func (cc *CallContext) runGuards() error {
	for _, guard := range cc.guards {
		if err := guard(cc); err != nil {
			return err
		}
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
