package runtime

import (
	"fmt"
	"math"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
)

var (
	rawMessageType   = reflect.TypeFor[jsoncodec.RawMessage]()
	protoMessageType = reflect.TypeFor[proto.Message]()
)

// bindArgs converts positional call arguments to the handler's parameter
// types. Missing trailing arguments become zero values.
func bindArgs(shape handlerShape, args []any) ([]reflect.Value, []any, error) {
	if len(args) > len(shape.params) {
		return nil, nil, errspkg.InvalidArgument(
			fmt.Sprintf("too many arguments: got %d, want at most %d", len(args), len(shape.params)), nil)
	}

	values := make([]reflect.Value, len(shape.params))
	params := make([]any, len(shape.params))
	for i, target := range shape.params {
		var arg any
		if i < len(args) {
			arg = args[i]
		}
		v, err := convertArg(arg, target)
		if err != nil {
			return nil, nil, errspkg.InvalidArgument(
				fmt.Sprintf("argument %d: cannot bind to %s", i, target), err)
		}
		values[i] = v
		params[i] = v.Interface()
	}
	return values, params, nil
}

func convertArg(arg any, target reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(target), nil
	}

	if raw, ok := rawJSON(arg); ok && target != rawMessageType {
		return decodeJSON(raw, target)
	}

	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(target) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(target.Kind()) {
		return convertNumber(v, target)
	}

	// Fall back to a JSON round trip, which covers maps decoded from a wire
	// format into struct parameters.
	data, err := jsoncodec.Marshal(arg)
	if err != nil {
		return reflect.Value{}, err
	}
	return decodeJSON(data, target)
}

func rawJSON(arg any) ([]byte, bool) {
	switch v := arg.(type) {
	case jsoncodec.RawMessage:
		return v, true
	case *jsoncodec.RawMessage:
		if v == nil {
			return nil, false
		}
		return *v, true
	default:
		return nil, false
	}
}

func decodeJSON(data []byte, target reflect.Type) (reflect.Value, error) {
	if target.Implements(protoMessageType) && target.Kind() == reflect.Pointer {
		msg := reflect.New(target.Elem())
		if err := protojson.Unmarshal(data, msg.Interface().(proto.Message)); err != nil {
			return reflect.Value{}, err
		}
		return msg, nil
	}
	ptr := reflect.New(target)
	if err := jsoncodec.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func convertNumber(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		switch target.Kind() {
		case reflect.Float32, reflect.Float64:
		default:
			if f != math.Trunc(f) {
				return reflect.Value{}, fmt.Errorf("%v is not an integer", f)
			}
		}
	}
	out := v.Convert(target)
	if !sameNumber(v, out) {
		return reflect.Value{}, fmt.Errorf("%v overflows %s", v.Interface(), target)
	}
	return out, nil
}

func sameNumber(in, out reflect.Value) bool {
	switch out.Kind() {
	case reflect.Float32, reflect.Float64:
		return true
	}
	switch in.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return out.Convert(in.Type()).Int() == in.Int() && (in.Int() >= 0 || !isUnsigned(out.Kind()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return out.Convert(in.Type()).Uint() == in.Uint() && (isUnsigned(out.Kind()) || out.Int() >= 0)
	default:
		return out.Convert(in.Type()).Float() == in.Float()
	}
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	default:
		return false
	}
}
