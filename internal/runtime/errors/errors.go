package errors

import (
	"context"
	sterrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrComposerRequired       = sterrors.New("chord: composer is required")
	ErrControllerNameRequired = sterrors.New("chord: controller name is required")
	ErrMethodNameRequired     = sterrors.New("chord: method name is required")
	ErrHandlerRequired        = sterrors.New("chord: handler function is required")
	ErrConfigRequired         = sterrors.New("chord: config is required")
	ErrLoggerRequired         = sterrors.New("chord: logger is required")
	ErrBackendRequired        = sterrors.New("chord: cache backend is required")
	ErrConnectionRequired     = sterrors.New("chord: connection is required")
	ErrSubjectRequired        = sterrors.New("chord: subject is required")
	ErrDrainTimeout           = sterrors.New("chord: subscription drain timed out")

	// ErrUnresolved is returned by injection sources that cannot provide a token.
	ErrUnresolved = sterrors.New("chord: dependency unresolved")
)

// ConfigValidationError wraps the joined problems reported by config validation.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "chord: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// Kind tags every error that crosses the dispatcher so the normalizer never
// has to guess at catch sites.
type Kind string

const (
	KindConfiguration        Kind = "configuration"
	KindDependencyUnresolved Kind = "dependency_unresolved"
	KindBusiness             Kind = "business"
	KindContractViolation    Kind = "contract_violation"
	KindCacheBackend         Kind = "cache_backend"
	KindNotFound             Kind = "not_found"
	KindInvalidArgument      Kind = "invalid_argument"
	KindCanceled             Kind = "canceled"
	KindUnknown              Kind = "unknown"
)

const defaultBusinessCode = "BUSINESS_ERROR"

// Error is the tagged error value propagated through the middleware chain.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	// Recoverable marks failures a caller may retry or that were absorbed locally.
	Recoverable bool
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("chord: %s: %v", msg, e.Cause)
	}
	return "chord: " + msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind (and code, when the target sets one).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Configuration reports malformed registration metadata. It is fatal at startup.
func Configuration(format string, args ...any) *Error {
	return &Error{
		Kind:    KindConfiguration,
		Code:    "CONFIGURATION_ERROR",
		Message: fmt.Sprintf(format, args...),
	}
}

// DependencyUnresolved reports an injection declaration that could not be satisfied.
func DependencyUnresolved(controller, field, token string, cause error) *Error {
	target := field
	if controller != "" {
		target = controller + "." + field
	}
	return &Error{
		Kind:    KindDependencyUnresolved,
		Code:    "DEPENDENCY_UNRESOLVED",
		Message: fmt.Sprintf("cannot resolve %s (token %q)", target, token),
		Cause:   cause,
	}
}

// ConstructionFailed reports a controller factory failure. It is surfaced the
// same way as an unresolved dependency.
func ConstructionFailed(controller string, cause error) *Error {
	return &Error{
		Kind:    KindDependencyUnresolved,
		Code:    "DEPENDENCY_UNRESOLVED",
		Message: "cannot construct controller " + controller,
		Cause:   cause,
	}
}

// Business builds a failure raised deliberately by method logic. Its code and
// message are surfaced to the caller verbatim.
func Business(code, message string) *Error {
	if code == "" {
		code = defaultBusinessCode
	}
	return &Error{Kind: KindBusiness, Code: code, Message: message}
}

// Businessf is Business with a formatted message.
func Businessf(code, format string, args ...any) *Error {
	return Business(code, fmt.Sprintf(format, args...))
}

// WrapBusiness tags cause as a business error, keeping it for errors.Is/As.
func WrapBusiness(code string, cause error) *Error {
	err := Business(code, "")
	if cause != nil {
		err.Message = cause.Error()
	}
	err.Cause = cause
	return err
}

// ContractViolation reports middleware misuse of the next function.
func ContractViolation(format string, args ...any) *Error {
	return &Error{
		Kind:    KindContractViolation,
		Code:    "INTERNAL",
		Message: fmt.Sprintf(format, args...),
	}
}

// CacheBackend wraps a failure produced by a cache backend. It is always
// recoverable: callers degrade to the miss path.
func CacheBackend(op string, cause error) *Error {
	return &Error{
		Kind:        KindCacheBackend,
		Code:        "CACHE_UNAVAILABLE",
		Message:     "cache " + op + " failed",
		Cause:       cause,
		Recoverable: true,
	}
}

// NotFound reports an unknown controller/method pair.
func NotFound(controller, method string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    "METHOD_NOT_FOUND",
		Message: fmt.Sprintf("method %s.%s not found", controller, method),
	}
}

// InvalidArgument reports a request whose arguments could not be bound or validated.
func InvalidArgument(message string, cause error) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Code:    "INVALID_ARGUMENT",
		Message: message,
		Cause:   cause,
	}
}

// Canceled reports a call abandoned because its context ended.
func Canceled(cause error) *Error {
	return &Error{
		Kind:        KindCanceled,
		Code:        "CANCELED",
		Message:     "request canceled",
		Cause:       cause,
		Recoverable: true,
	}
}

// Unknown wraps any untyped failure.
func Unknown(cause error) *Error {
	return &Error{Kind: KindUnknown, Code: "INTERNAL", Message: "unexpected failure", Cause: cause}
}

// Panic converts a recovered value, error or not, into an Unknown failure.
func Panic(value any) *Error {
	if err, ok := value.(error); ok {
		return &Error{Kind: KindUnknown, Code: "INTERNAL", Message: "panic", Cause: err}
	}
	return &Error{Kind: KindUnknown, Code: "INTERNAL", Message: fmt.Sprintf("panic: %v", value)}
}

// As extracts the tagged error from err, if any.
func As(err error) (*Error, bool) {
	var tagged *Error
	if sterrors.As(err, &tagged) {
		return tagged, true
	}
	return nil, false
}

// KindOf classifies any error. Context errors map to KindCanceled and untyped
// errors to KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if tagged, ok := As(err); ok {
		return tagged.Kind
	}
	if sterrors.Is(err, context.Canceled) || sterrors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindUnknown
}

// IsRecoverable reports whether err is tagged as recoverable.
func IsRecoverable(err error) bool {
	if tagged, ok := As(err); ok {
		return tagged.Recoverable
	}
	return KindOf(err) == KindCanceled
}

// ClientVisible reports whether the kind's detail may be shown to callers.
func ClientVisible(kind Kind) bool {
	switch kind {
	case KindBusiness, KindNotFound, KindInvalidArgument, KindCanceled:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind onto an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case "":
		return http.StatusOK
	case KindBusiness:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindCanceled:
		return http.StatusRequestTimeout
	case KindCacheBackend:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
