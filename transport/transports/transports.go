// Package transports registers every bundled backend with
// transport.DefaultRegistry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/chord/transport/aws"
	_ "github.com/drblury/chord/transport/channel"
	_ "github.com/drblury/chord/transport/http"
	_ "github.com/drblury/chord/transport/kafka"
	_ "github.com/drblury/chord/transport/nats"
	_ "github.com/drblury/chord/transport/rabbitmq"
)
