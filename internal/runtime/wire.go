package runtime

import (
	"strings"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
)

// WireRequest is the request shape shared by the transport adapters.
type WireRequest struct {
	ID     string                 `json:"id,omitempty"`
	Method string                 `json:"method"`
	Params []jsoncodec.RawMessage `json:"params,omitempty"`
}

// DecodeWireRequest parses a JSON request body.
func DecodeWireRequest(data []byte) (WireRequest, error) {
	var req WireRequest
	if len(strings.TrimSpace(string(data))) == 0 {
		return req, errspkg.InvalidArgument("empty request body", nil)
	}
	if err := jsoncodec.Unmarshal(data, &req); err != nil {
		return req, errspkg.InvalidArgument("malformed request body", err)
	}
	return req, nil
}

// Call converts the request into a Call. Params stay raw JSON until the
// handler's parameter types are known.
func (r WireRequest) Call() (Call, error) {
	controller, method, err := ParseMethod(r.Method)
	if err != nil {
		return Call{}, err
	}
	return Call{Controller: controller, Method: method, Args: RawArgs(r.Params)}, nil
}

// RawArgs wraps JSON values as call arguments.
func RawArgs(params []jsoncodec.RawMessage) []any {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}
	return args
}
