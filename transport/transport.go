// Package transport carries composed calls over a message bus. Each backend
// (kafka, rabbitmq, nats, http, aws, channel) lives in its own sub-package and
// registers a Builder under the name selected by Config.GetPubSubSystem.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

var (
	// ErrConfigRequired is returned by Build when no config is supplied.
	ErrConfigRequired = errors.New("transport config is required")
	// ErrUnknownTransport is returned by Build for unregistered names.
	ErrUnknownTransport = errors.New("unknown transport")
)

// MissingSettingError reports a backend setting that has to be configured.
type MissingSettingError struct {
	Transport string
	Setting   string
}

func (e *MissingSettingError) Error() string {
	return fmt.Sprintf("transport %s: %s is required", e.Transport, e.Setting)
}

// MissingSetting builds a MissingSettingError.
func MissingSetting(transport, setting string) error {
	return &MissingSettingError{Transport: transport, Setting: setting}
}

// Transport pairs the subscriber that receives requests with the publisher
// that sends replies. Both may be the same value.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the subscriber and, when it is a separate value, the publisher.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	if t.Publisher != nil && !sameValue(t.Publisher, t.Subscriber) {
		if err := t.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}

func sameValue(pub message.Publisher, sub message.Subscriber) (same bool) {
	if sub == nil {
		return false
	}
	defer func() {
		// Uncomparable dynamic types are never the same value.
		if recover() != nil {
			same = false
		}
	}()
	return any(pub) == any(sub)
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the settings transports read. The composer config
// implements it.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
