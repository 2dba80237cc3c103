// Package http receives bus requests as HTTP POSTs to /{topic} and publishes
// replies by POSTing to the configured publisher URL.
package http

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/chord/transport"
)

const TransportName = "http"

var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

// ServerStarter is implemented by subscribers that serve their own listener.
type ServerStarter interface {
	StartHTTPServer() error
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates the transport. The listener starts after the first Subscribe,
// once the topic route exists.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	if serverAddr == "" {
		return transport.Transport{}, transport.MissingSetting(TransportName, "server address")
	}
	publisherURL := cfg.GetHTTPPublisherURL()
	if publisherURL == "" {
		return transport.Transport{}, transport.MissingSetting(TransportName, "publisher url")
	}

	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return http.DefaultMarshalMessageFunc(TopicURL(publisherURL, topic), msg)
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("http publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(serverAddr, http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		return transport.Transport{}, errors.Join(fmt.Errorf("http subscriber: %w", err), publisher.Close())
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &lazyServer{Subscriber: subscriber, logger: logger, addr: serverAddr},
	}, nil
}

// TopicURL joins base and topic with exactly one slash.
func TopicURL(base, topic string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(topic, "/")
}

func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

type lazyServer struct {
	message.Subscriber
	logger watermill.LoggerAdapter
	addr   string
	once   sync.Once
}

func (s *lazyServer) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := s.Subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	starter, ok := s.Subscriber.(ServerStarter)
	if !ok {
		return msgs, nil
	}
	s.once.Do(func() {
		go func() {
			s.logger.Info("HTTP transport listening", watermill.LogFields{"addr": s.addr, "topic": topic})
			if err := starter.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				s.logger.Error("HTTP transport server stopped", err, watermill.LogFields{"addr": s.addr})
			}
		}()
	})
	return msgs, nil
}
