// Package transports imports every built-in transport so that each one
// registers itself with the default registry.
package transports

import (
	_ "github.com/drblury/funcflow/transport/aws"
	_ "github.com/drblury/funcflow/transport/channel"
	_ "github.com/drblury/funcflow/transport/http"
	_ "github.com/drblury/funcflow/transport/kafka"
	_ "github.com/drblury/funcflow/transport/nats"
	_ "github.com/drblury/funcflow/transport/rabbitmq"
)
