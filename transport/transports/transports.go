// Package transports imports all built-in command bus transports so they
// register with the default registry.
package transports

import (
	_ "github.com/drblury/procflow/transport/aws"
	_ "github.com/drblury/procflow/transport/channel"
	_ "github.com/drblury/procflow/transport/http"
	_ "github.com/drblury/procflow/transport/kafka"
	_ "github.com/drblury/procflow/transport/nats"
	_ "github.com/drblury/procflow/transport/rabbitmq"
)
