package runtime

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
)

const genericFaultMessage = "internal error"

// ErrorDescriptor is the wire shape of a failed call.
type ErrorDescriptor struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequestEcho carries correlation data back to the caller.
type RequestEcho struct {
	ID         string `json:"id"`
	Controller string `json:"controller,omitempty"`
	Method     string `json:"method,omitempty"`
}

// Envelope is produced exactly once per call.
type Envelope struct {
	Success bool             `json:"success"`
	Result  any              `json:"result,omitempty"`
	Error   *ErrorDescriptor `json:"error,omitempty"`
	Request *RequestEcho     `json:"request,omitempty"`
}

// Kind returns the error kind, or "" for a successful envelope.
func (e Envelope) Kind() errspkg.Kind {
	if e.Error == nil {
		return ""
	}
	return errspkg.Kind(e.Error.Kind)
}

// Normalize shapes any outcome into an Envelope. Business, not-found,
// invalid-argument and cancellation failures keep their message; every other
// kind is reported with a generic message so internal detail never reaches
// the caller.
func Normalize(result any, err error, echo *RequestEcho) Envelope {
	if err == nil {
		return Envelope{Success: true, Result: result, Request: echo}
	}
	return Envelope{Success: false, Error: describe(err), Request: echo}
}

func describe(err error) *ErrorDescriptor {
	kind := errspkg.KindOf(err)
	desc := &ErrorDescriptor{Kind: string(kind), Code: "INTERNAL", Message: genericFaultMessage}

	tagged, ok := errspkg.As(err)
	if !ok {
		if kind == errspkg.KindCanceled {
			canceled := errspkg.Canceled(err)
			desc.Code, desc.Message = canceled.Code, canceled.Message
		}
		return desc
	}

	if tagged.Code != "" {
		desc.Code = tagged.Code
	}
	if errspkg.ClientVisible(kind) && tagged.Message != "" {
		desc.Message = tagged.Message
	}
	return desc
}

// EncodeEnvelope serializes an envelope. Protobuf results are rendered with
// protojson so well-known types keep their canonical JSON form.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if msg, ok := env.Result.(proto.Message); ok && msg != nil {
		data, err := protojson.Marshal(msg)
		if err != nil {
			return nil, err
		}
		env.Result = jsoncodec.RawMessage(data)
	}
	return jsoncodec.Marshal(env)
}
