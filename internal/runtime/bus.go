package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	configpkg "github.com/drblury/chord/internal/runtime/config"
	idspkg "github.com/drblury/chord/internal/runtime/ids"
	loggingpkg "github.com/drblury/chord/internal/runtime/logging"
	metadatapkg "github.com/drblury/chord/internal/runtime/metadata"
	"github.com/drblury/chord/transport"
)

// Metadata keys read and written by the bus adapter.
const (
	MetadataReplyTo       = "reply_to"
	MetadataCorrelationID = "correlation_id"
)

var _ transport.Config = (*configpkg.Config)(nil)

// TransportBuilder creates the publisher/subscriber pair for the configured bus.
type TransportBuilder interface {
	Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error)
}

// BusAdapterMiddleware registers BusAdapter.
func BusAdapterMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "bus_adapter",
		Middleware: BusAdapter(),
	}
}

// BusAdapter selects the call from a Watermill message carrying a
// WireRequest payload. Other raw values pass through untouched.
func BusAdapter() Middleware {
	return func(cc *CallContext, next Next) (any, error) {
		msg, ok := cc.Raw().(*message.Message)
		if !ok || msg == nil {
			return next(cc)
		}

		md := metadatapkg.FromWatermill(msg.Metadata)
		for k, v := range md {
			cc.SetMetadata(k, v)
		}
		cc.Provide("message", msg)

		req, err := DecodeWireRequest(msg.Payload)
		if err != nil {
			return nil, err
		}
		call, err := req.Call()
		if err != nil {
			return nil, err
		}
		cc.SetCall(call)

		id := req.ID
		if id == "" {
			id = md.Get(MetadataCorrelationID)
		}
		if id != "" {
			cc.SetID(idspkg.CorrelationID(id))
		}
		return next(cc)
	}
}

// runBus consumes Config.RequestTopic until ctx ends, publishing each
// envelope to the message's reply_to topic or Config.ResponseTopic.
func (c *Composer) runBus(ctx context.Context) error {
	wmLogger := loggingpkg.NewWatermillAdapter(c.Logger)

	tr, err := c.transports.Build(ctx, c.Conf, wmLogger)
	if err != nil {
		return err
	}
	defer c.closeTransport(tr)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return err
	}
	router.AddMiddleware(middleware.Recoverer, middleware.CorrelationID)

	if c.Conf.MetricsEnabled {
		metrics.NewPrometheusMetricsBuilder(c.registerer, "chord", c.Conf.PubSubSystem).
			AddPrometheusRouterMetrics(router)
	}

	router.AddNoPublisherHandler(
		"chord_"+c.Conf.RequestTopic,
		c.Conf.RequestTopic,
		tr.Subscriber,
		c.busHandler(tr.Publisher),
	)

	c.Logger.Info("Starting bus adapter", loggingpkg.LogFields{
		"pubsub_system":  c.Conf.PubSubSystem,
		"request_topic":  c.Conf.RequestTopic,
		"response_topic": c.Conf.ResponseTopic,
	})
	return router.Run(ctx)
}

func (c *Composer) busHandler(pub message.Publisher) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		env := c.Exec(msg.Context(), msg)

		topic := msg.Metadata.Get(MetadataReplyTo)
		if topic == "" {
			topic = c.Conf.ResponseTopic
		}
		if topic == "" {
			return nil
		}

		payload, err := EncodeEnvelope(env)
		if err != nil {
			return err
		}
		reply := message.NewMessage(idspkg.CreateULID(), payload)
		if env.Request != nil {
			reply.Metadata = metadatapkg.New(MetadataCorrelationID, env.Request.ID).ToWatermill()
		}
		return pub.Publish(topic, reply)
	}
}

func (c *Composer) closeTransport(tr transport.Transport) {
	if err := tr.Close(); err != nil {
		c.Logger.Error("Failed to close transport", err, nil)
	}
}
