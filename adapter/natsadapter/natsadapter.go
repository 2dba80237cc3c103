// Package natsadapter serves a Composer over NATS request/reply. Requests
// carry a WireRequest payload and receive the encoded envelope as reply.
package natsadapter

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/drblury/chord/internal/runtime"
	errspkg "github.com/drblury/chord/internal/runtime/errors"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
	metadatapkg "github.com/drblury/chord/internal/runtime/metadata"
)

// TokenMessage is the injection token under which the *nats.Msg is provided.
const TokenMessage = "nats_message"

// HeaderRequestID overrides the id given in the payload.
const HeaderRequestID = "X-Request-ID"

// Middleware registers Adapter under the name "nats_adapter".
func Middleware() runtime.MiddlewareRegistration {
	return runtime.MiddlewareRegistration{
		Name:       "nats_adapter",
		Middleware: Adapter(),
	}
}

// Adapter selects the call from a *nats.Msg. Other raw values pass through.
func Adapter() runtime.Middleware {
	return func(cc *runtime.CallContext, next runtime.Next) (any, error) {
		msg, ok := cc.Raw().(*nats.Msg)
		if !ok || msg == nil {
			return next(cc)
		}

		if msg.Header != nil {
			for k, v := range metadatapkg.FromHeader(msg.Header) {
				cc.SetMetadata(k, v)
			}
		}
		cc.SetMetadata("subject", msg.Subject)
		cc.Provide(TokenMessage, msg)

		req, err := runtime.DecodeWireRequest(msg.Data)
		if err != nil {
			return nil, err
		}
		call, err := req.Call()
		if err != nil {
			return nil, err
		}
		cc.SetCall(call)

		id := req.ID
		if msg.Header != nil && msg.Header.Get(HeaderRequestID) != "" {
			id = msg.Header.Get(HeaderRequestID)
		}
		cc.SetID(id)
		return next(cc)
	}
}

// DrainTimeout bounds how long Serve waits for the subscription to drain.
var DrainTimeout = 30 * time.Second

type subscription interface {
	Drain() error
	IsValid() bool
	StatusChanged(statuses ...nats.SubStatus) <-chan nats.SubStatus
}

var (
	queueSubscribe = func(conn *nats.Conn, subject, queue string, handler nats.MsgHandler) (subscription, error) {
		sub, err := conn.QueueSubscribe(subject, queue, handler)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	respond = (*nats.Msg).Respond
)

// Serve queue-subscribes to subject and answers every request until ctx
// ends. Replicas sharing queue split the load. The composer must have Adapter
// in its middleware chain. On return the subscription has been drained and
// in-flight calls have replied.
func Serve(ctx context.Context, conn *nats.Conn, subject, queue string, composer *runtime.Composer) error {
	switch {
	case conn == nil:
		return errspkg.ErrConnectionRequired
	case subject == "":
		return errspkg.ErrSubjectRequired
	case composer == nil:
		return errspkg.ErrComposerRequired
	}

	// Drained requests still run after ctx ends.
	s := &server{ctx: context.WithoutCancel(ctx), composer: composer, respond: respond}
	sub, err := queueSubscribe(conn, subject, queue, s.handle)
	if err != nil {
		return err
	}
	composer.Logger.Info("Serving NATS requests", loggingpkg.LogFields{"subject": subject, "queue": queue})

	<-ctx.Done()
	closed := sub.StatusChanged(nats.SubscriptionClosed)
	err = sub.Drain()
	if err == nil {
		err = awaitClosed(sub, closed)
	}
	// The handler is never invoked again once the subscription is closed.
	s.inflight.Wait()
	return err
}

func awaitClosed(sub subscription, closed <-chan nats.SubStatus) error {
	if !sub.IsValid() {
		return nil
	}
	timer := time.NewTimer(DrainTimeout)
	defer timer.Stop()
	select {
	case <-closed:
		return nil
	case <-timer.C:
		return errspkg.ErrDrainTimeout
	}
}

type server struct {
	ctx      context.Context
	composer *runtime.Composer
	respond  func(msg *nats.Msg, data []byte) error
	inflight sync.WaitGroup
}

func (s *server) handle(msg *nats.Msg) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.reply(msg)
	}()
}

func (s *server) reply(msg *nats.Msg) {
	env := s.composer.Exec(s.ctx, msg)
	if msg.Reply == "" {
		s.composer.Logger.Debug("Dropping envelope for request without reply subject", loggingpkg.LogFields{"subject": msg.Subject})
		return
	}
	payload, err := runtime.EncodeEnvelope(env)
	if err != nil {
		s.composer.Logger.Error("Failed to encode envelope", err, loggingpkg.LogFields{"subject": msg.Subject})
		return
	}
	if err := s.respond(msg, payload); err != nil {
		s.composer.Logger.Error("Failed to send reply", err, loggingpkg.LogFields{"subject": msg.Subject, "reply": msg.Reply})
	}
}
