package natsadapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chord/internal/runtime"
	configpkg "github.com/drblury/chord/internal/runtime/config"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	"github.com/drblury/chord/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
)

type echo struct {
	subject string
}

func newEcho(deps runtime.Dependencies) (*echo, error) {
	msg, err := runtime.Dependency[*nats.Msg](deps, "msg")
	if err != nil {
		return nil, err
	}
	return &echo{subject: msg.Subject}, nil
}

func (e *echo) Say(word string) string {
	return strings.ToUpper(word) + " via " + e.subject
}

func newComposer(t *testing.T) *runtime.Composer {
	t.Helper()
	c, err := runtime.TryNewComposer(
		&configpkg.Config{},
		loggingpkg.NewNopLogger(),
		[]runtime.ControllerDefinition{
			runtime.NewController("Echo", newEcho,
				runtime.DependsOn("msg", TokenMessage),
				runtime.RPC("say", (*echo).Say),
			),
		},
		runtime.ComposerDependencies{
			MetricsRegisterer: prometheus.NewRegistry(),
			Middlewares:       []runtime.MiddlewareRegistration{Middleware()},
		},
	)
	require.NoError(t, err)
	return c
}

func TestAdapterExtractsCall(t *testing.T) {
	c := newComposer(t)
	msg := &nats.Msg{
		Subject: "svc.rpc",
		Data:    []byte(`{"id":"n-1","method":"Echo.say","params":["hi"]}`),
	}

	env := c.Exec(context.Background(), msg)

	require.True(t, env.Success, "%+v", env.Error)
	assert.Equal(t, "HI via svc.rpc", env.Result)
	assert.Equal(t, "n-1", env.Request.ID)
}

func TestAdapterHeaderID(t *testing.T) {
	c := newComposer(t)
	msg := &nats.Msg{
		Subject: "svc.rpc",
		Header:  nats.Header{HeaderRequestID: []string{"from-header"}},
		Data:    []byte(`{"id":"from-body","method":"Echo.say","params":["a"]}`),
	}

	env := c.Exec(context.Background(), msg)

	assert.Equal(t, "from-header", env.Request.ID)
}

func TestAdapterRejectsBadPayload(t *testing.T) {
	c := newComposer(t)

	env := c.Exec(context.Background(), &nats.Msg{Subject: "svc.rpc", Data: []byte(`{"method":"nodot"}`)})
	assert.Equal(t, errspkg.KindInvalidArgument, env.Kind())

	env = c.Exec(context.Background(), &nats.Msg{Subject: "svc.rpc"})
	assert.Equal(t, errspkg.KindInvalidArgument, env.Kind())
	assert.Equal(t, "empty request body", env.Error.Message)
}

type responder struct {
	mu      sync.Mutex
	replies map[string][]byte
	err     error
}

func (r *responder) respond(msg *nats.Msg, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replies == nil {
		r.replies = make(map[string][]byte)
	}
	r.replies[msg.Reply] = data
	return r.err
}

func TestServerRepliesWithEnvelope(t *testing.T) {
	resp := &responder{}
	s := &server{ctx: context.Background(), composer: newComposer(t), respond: resp.respond}

	s.handle(&nats.Msg{Subject: "svc.rpc", Reply: "_INBOX.1", Data: []byte(`{"id":"a","method":"Echo.say","params":["x"]}`)})
	s.handle(&nats.Msg{Subject: "svc.rpc", Reply: "_INBOX.2", Data: []byte(`{"id":"b","method":"Echo.nope"}`)})
	s.handle(&nats.Msg{Subject: "svc.rpc", Data: []byte(`{"method":"Echo.say","params":["dropped"]}`)})
	s.inflight.Wait()

	require.Len(t, resp.replies, 2)

	var ok runtime.Envelope
	require.NoError(t, jsoncodec.Unmarshal(resp.replies["_INBOX.1"], &ok))
	assert.True(t, ok.Success)
	assert.Equal(t, "X via svc.rpc", ok.Result)

	var failed runtime.Envelope
	require.NoError(t, jsoncodec.Unmarshal(resp.replies["_INBOX.2"], &failed))
	assert.Equal(t, errspkg.KindNotFound, failed.Kind())
	assert.Equal(t, "b", failed.Request.ID)
}

func TestServerSurvivesRespondError(t *testing.T) {
	resp := &responder{err: errors.New("connection closed")}
	s := &server{ctx: context.Background(), composer: newComposer(t), respond: resp.respond}

	s.handle(&nats.Msg{Subject: "svc.rpc", Reply: "_INBOX.1", Data: []byte(`{"method":"Echo.say","params":["x"]}`)})
	s.inflight.Wait()

	assert.Len(t, resp.replies, 1)
}

func TestServeValidatesArguments(t *testing.T) {
	c := newComposer(t)
	ctx := context.Background()

	assert.ErrorIs(t, Serve(ctx, nil, "svc.rpc", "", c), errspkg.ErrConnectionRequired)
	assert.ErrorIs(t, Serve(ctx, &nats.Conn{}, "", "", c), errspkg.ErrSubjectRequired)
	assert.ErrorIs(t, Serve(ctx, &nats.Conn{}, "svc.rpc", "", nil), errspkg.ErrComposerRequired)
}

// pendingSub delivers its buffered messages only once drained, then reports
// itself closed, the way a NATS subscription with pending messages does.
type pendingSub struct {
	handler nats.MsgHandler
	pending []*nats.Msg
	status  chan nats.SubStatus
	closed  atomic.Bool
	hang    bool
}

func (p *pendingSub) IsValid() bool { return !p.closed.Load() }

func (p *pendingSub) StatusChanged(...nats.SubStatus) <-chan nats.SubStatus { return p.status }

func (p *pendingSub) Drain() error {
	if p.hang {
		return nil
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		for _, msg := range p.pending {
			p.handler(msg)
		}
		p.closed.Store(true)
		p.status <- nats.SubscriptionClosed
	}()
	return nil
}

func stubSubscription(t *testing.T, sub *pendingSub, resp *responder) {
	t.Helper()
	origSubscribe, origRespond := queueSubscribe, respond
	t.Cleanup(func() { queueSubscribe, respond = origSubscribe, origRespond })

	queueSubscribe = func(_ *nats.Conn, _, _ string, handler nats.MsgHandler) (subscription, error) {
		sub.handler = handler
		return sub, nil
	}
	respond = resp.respond
}

func TestServeRepliesToPendingMessagesBeforeReturning(t *testing.T) {
	sub := &pendingSub{status: make(chan nats.SubStatus, 1)}
	for _, reply := range []string{"_INBOX.1", "_INBOX.2", "_INBOX.3"} {
		sub.pending = append(sub.pending, &nats.Msg{
			Subject: "svc.rpc",
			Reply:   reply,
			Data:    []byte(`{"method":"Echo.say","params":["late"]}`),
		})
	}
	resp := &responder{}
	stubSubscription(t, sub, resp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, Serve(ctx, &nats.Conn{}, "svc.rpc", "workers", newComposer(t)))

	resp.mu.Lock()
	defer resp.mu.Unlock()
	assert.Len(t, resp.replies, 3)
}

func TestServeDrainTimeout(t *testing.T) {
	orig := DrainTimeout
	DrainTimeout = 20 * time.Millisecond
	t.Cleanup(func() { DrainTimeout = orig })

	sub := &pendingSub{status: make(chan nats.SubStatus, 1), hang: true}
	stubSubscription(t, sub, &responder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, Serve(ctx, &nats.Conn{}, "svc.rpc", "", newComposer(t)), errspkg.ErrDrainTimeout)
}

func TestServeSubscribeError(t *testing.T) {
	orig := queueSubscribe
	t.Cleanup(func() { queueSubscribe = orig })
	queueSubscribe = func(*nats.Conn, string, string, nats.MsgHandler) (subscription, error) {
		return nil, nats.ErrConnectionClosed
	}

	err := Serve(context.Background(), &nats.Conn{}, "svc.rpc", "", newComposer(t))
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}
