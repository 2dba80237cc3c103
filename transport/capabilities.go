package transport

// Capabilities describes how a backend delivers requests and replies.
type Capabilities struct {
	Name string

	// CompetingConsumers means each request reaches one replica only.
	CompetingConsumers bool
	// Redelivery means a nacked request is delivered again.
	Redelivery bool
	// Ordering means requests on one topic arrive in publish order.
	Ordering bool
	// Durable means requests survive a broker restart.
	Durable bool
	// InProcess means publisher and subscriber share the process.
	InProcess bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64
}

// SafeForRetries reports whether a failed call can be nacked and retried
// without another replica also running it.
func (c Capabilities) SafeForRetries() bool {
	return c.CompetingConsumers && c.Redelivery
}

// Predefined capability sets for the bundled backends.
var (
	ChannelCapabilities = Capabilities{
		Name:               "channel",
		CompetingConsumers: false,
		Redelivery:         true,
		Ordering:           true,
		InProcess:          true,
	}

	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		CompetingConsumers: true,
		Redelivery:         true,
		Ordering:           true,
		Durable:            true,
		MaxMessageSize:     1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		CompetingConsumers: true,
		Redelivery:         true,
		Durable:            true,
		MaxMessageSize:     128 << 20,
	}

	NATSCapabilities = Capabilities{
		Name:               "nats",
		CompetingConsumers: true,
		MaxMessageSize:     1 << 20,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}

	AWSCapabilities = Capabilities{
		Name:               "aws",
		CompetingConsumers: true,
		Redelivery:         true,
		Durable:            true,
		MaxMessageSize:     256 << 10,
	}
)
