package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/chord/internal/runtime/errors"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
)

func TestDecodeWireRequest(t *testing.T) {
	req, err := DecodeWireRequest([]byte(`{"id":"1","method":"TestRPC.dbReq","params":[5,{"a":1}]}`))
	require.NoError(t, err)
	assert.Equal(t, "1", req.ID)

	c, err := req.Call()
	require.NoError(t, err)
	assert.Equal(t, "TestRPC", c.Controller)
	assert.Equal(t, "dbReq", c.Method)
	require.Len(t, c.Args, 2)
	assert.Equal(t, jsoncodec.RawMessage("5"), c.Args[0])
	assert.JSONEq(t, `{"a":1}`, string(c.Args[1].(jsoncodec.RawMessage)))
}

func TestDecodeWireRequestErrors(t *testing.T) {
	for _, body := range []string{"", "   ", "[", `{"method":1}`} {
		_, err := DecodeWireRequest([]byte(body))
		assert.Equal(t, errspkg.KindInvalidArgument, errspkg.KindOf(err), "body %q", body)
	}

	req, err := DecodeWireRequest([]byte(`{"method":"noDot"}`))
	require.NoError(t, err)
	_, err = req.Call()
	assert.Equal(t, errspkg.KindInvalidArgument, errspkg.KindOf(err))
}

func TestParseMethod(t *testing.T) {
	controller, method, err := ParseMethod("billing.Invoices.create")
	require.NoError(t, err)
	assert.Equal(t, "billing.Invoices", controller)
	assert.Equal(t, "create", method)

	for _, bad := range []string{"", "x", ".m", "C."} {
		_, _, err := ParseMethod(bad)
		assert.Error(t, err, bad)
	}
}

func TestCallStateTransitions(t *testing.T) {
	cc := newTestCallContext(t.Context())
	assert.Equal(t, CallReceived, cc.State())

	cc.setState(CallResolving)
	cc.setState(CallFailed)
	cc.setState(CallCompleted)

	assert.Equal(t, CallFailed, cc.State(), "terminal states are final")
	assert.True(t, CallFailed.Terminal())
	assert.False(t, CallDispatching.Terminal())
	assert.Equal(t, "dispatching", CallDispatching.String())
	assert.Equal(t, "CallState(42)", CallState(42).String())
}

func TestCallContextValues(t *testing.T) {
	cc := newTestCallContext(t.Context())

	_, ok := cc.Value("k")
	assert.False(t, ok)
	cc.Set("k", 1)
	v, ok := cc.Value("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	cc.SetID("")
	assert.Equal(t, "call-1", cc.ID())

	cc.SetMetadata("Trace", "abc")
	assert.Equal(t, "abc", cc.Metadata().Get("trace"))
}
