package runtime

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
)

// Dependencies carries the values resolved for a controller's injection
// declarations, keyed by field name.
type Dependencies map[string]any

// Dependency returns the resolved value for field as T.
func Dependency[T any](deps Dependencies, field string) (T, error) {
	var zero T
	raw, ok := deps[field]
	if !ok {
		return zero, errspkg.DependencyUnresolved("", field, field, errspkg.ErrUnresolved)
	}
	value, ok := raw.(T)
	if !ok {
		return zero, errspkg.DependencyUnresolved("", field, field,
			fmt.Errorf("resolved %T, want %s", raw, reflect.TypeFor[T]()))
	}
	return value, nil
}

// InjectionDeclaration states that the controller needs Field resolved from
// Token before a call can run.
type InjectionDeclaration struct {
	Field string
	Token string
}

// MethodDefinition describes one remotely callable method.
type MethodDefinition struct {
	Name        string
	Handler     any
	Middlewares []Middleware
}

// ControllerDefinition bundles the methods and injection needs of one
// controller. Build it with NewController.
type ControllerDefinition struct {
	Name    string
	Inject  []InjectionDeclaration
	Methods []MethodDefinition

	instanceType reflect.Type
	factory      func(Dependencies) (any, error)
}

// ControllerOption configures a ControllerDefinition.
type ControllerOption func(*ControllerDefinition)

// MethodOption configures a MethodDefinition.
type MethodOption func(*MethodDefinition)

// NewController declares a controller whose per-call instance has type T.
// The factory receives the resolved dependencies; a nil factory yields a fresh
// zero instance for every call.
//
//	chord.NewController("TestRPC", newTestRPC,
//		chord.Depends("ctx"),
//		chord.RPC("dbReq", (*TestRPC).DbReq),
//	)
func NewController[T any](name string, factory func(Dependencies) (T, error), opts ...ControllerOption) ControllerDefinition {
	def := ControllerDefinition{
		Name:         name,
		instanceType: reflect.TypeFor[T](),
	}
	if factory != nil {
		def.factory = func(deps Dependencies) (any, error) {
			return factory(deps)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&def)
		}
	}
	return def
}

// RPC marks handler as remotely callable under name. The handler is a method
// expression or function whose first parameter receives the controller
// instance, optionally followed by a context.Context or *CallContext, then the
// positional arguments. It returns an optional result and an optional error.
func RPC(name string, handler any, opts ...MethodOption) ControllerOption {
	return func(def *ControllerDefinition) {
		method := MethodDefinition{Name: name, Handler: handler}
		for _, opt := range opts {
			if opt != nil {
				opt(&method)
			}
		}
		def.Methods = append(def.Methods, method)
	}
}

// Use attaches method-level middleware in declaration order.
func Use(mws ...Middleware) MethodOption {
	return func(def *MethodDefinition) {
		def.Middlewares = append(def.Middlewares, mws...)
	}
}

// Depends declares an injection whose token equals the field name.
func Depends(field string) ControllerOption {
	return DependsOn(field, field)
}

// DependsOn declares an injection resolved from token.
func DependsOn(field, token string) ControllerOption {
	return func(def *ControllerDefinition) {
		if token == "" {
			token = field
		}
		def.Inject = append(def.Inject, InjectionDeclaration{Field: field, Token: token})
	}
}

func (d *ControllerDefinition) newInstance(deps Dependencies) (any, error) {
	if d.factory != nil {
		return d.factory(deps)
	}
	if d.instanceType.Kind() == reflect.Pointer {
		return reflect.New(d.instanceType.Elem()).Interface(), nil
	}
	return reflect.Zero(d.instanceType).Interface(), nil
}

func (d *ControllerDefinition) validate() error {
	if d.Name == "" {
		err := errspkg.Configuration("controller definition without a name")
		err.Cause = errspkg.ErrControllerNameRequired
		return err
	}
	if d.instanceType == nil {
		return errspkg.Configuration("controller %s was not built with NewController", d.Name)
	}
	if d.factory == nil {
		if len(d.Inject) > 0 {
			return errspkg.Configuration("controller %s declares injections but has no factory", d.Name)
		}
		if d.instanceType.Kind() == reflect.Interface {
			return errspkg.Configuration("controller %s has interface instance type %s and needs a factory", d.Name, d.instanceType)
		}
	}
	fields := make(map[string]struct{}, len(d.Inject))
	for _, decl := range d.Inject {
		if decl.Field == "" {
			return errspkg.Configuration("controller %s declares an injection without a field", d.Name)
		}
		if _, dup := fields[decl.Field]; dup {
			return errspkg.Configuration("controller %s declares field %q twice", d.Name, decl.Field)
		}
		fields[decl.Field] = struct{}{}
	}
	if len(d.Methods) == 0 {
		return errspkg.Configuration("controller %s declares no RPC methods", d.Name)
	}
	return nil
}

type contextParam int

const (
	contextParamNone contextParam = iota
	contextParamContext
	contextParamCall
)

var (
	contextType     = reflect.TypeFor[context.Context]()
	callContextType = reflect.TypeFor[*CallContext]()
	errorType       = reflect.TypeFor[error]()
)

// handlerShape is the validated signature of an RPC handler.
type handlerShape struct {
	fn        reflect.Value
	receiver  reflect.Type
	context   contextParam
	params    []reflect.Type
	hasResult bool
	hasError  bool
}

func inspectHandler(controller reflect.Type, handler any) (handlerShape, error) {
	if handler == nil {
		return handlerShape{}, errspkg.ErrHandlerRequired
	}
	fn := reflect.ValueOf(handler)
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		return handlerShape{}, fmt.Errorf("handler is %s, not a function", ft)
	}
	if fn.IsNil() {
		return handlerShape{}, errspkg.ErrHandlerRequired
	}
	if ft.IsVariadic() {
		return handlerShape{}, fmt.Errorf("variadic handler %s is not supported", ft)
	}
	if ft.NumIn() == 0 {
		return handlerShape{}, fmt.Errorf("handler %s must take the controller instance as first parameter", ft)
	}
	receiver := ft.In(0)
	if !controller.AssignableTo(receiver) {
		return handlerShape{}, fmt.Errorf("handler receiver %s does not accept controller type %s", receiver, controller)
	}

	shape := handlerShape{fn: fn, receiver: receiver}
	next := 1
	if ft.NumIn() > 1 {
		switch ft.In(1) {
		case contextType:
			shape.context = contextParamContext
			next = 2
		case callContextType:
			shape.context = contextParamCall
			next = 2
		}
	}
	for i := next; i < ft.NumIn(); i++ {
		shape.params = append(shape.params, ft.In(i))
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			shape.hasError = true
		} else {
			shape.hasResult = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return handlerShape{}, fmt.Errorf("handler %s: second result must be error", ft)
		}
		shape.hasResult = true
		shape.hasError = true
	default:
		return handlerShape{}, fmt.Errorf("handler %s returns too many values", ft)
	}
	return shape, nil
}
