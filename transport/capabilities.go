package transport

// Capabilities describes the delivery guarantees of a transport. The runtime
// reports them on startup and on the introspection endpoint.
type Capabilities struct {
	Name string `json:"name"`

	// SupportsOrdering is true when messages of one topic or partition are
	// delivered in order.
	SupportsOrdering bool `json:"supportsOrdering"`
	// SupportsAck is true when the transport waits for explicit acknowledgement.
	SupportsAck bool `json:"supportsAck"`
	// SupportsNack is true when a rejected message is redelivered.
	SupportsNack bool `json:"supportsNack"`
	// Durable is true when messages survive a restart of the function.
	Durable bool `json:"durable"`
	// PropagatesMetadata is true when message metadata reaches the consumer.
	PropagatesMetadata bool `json:"propagatesMetadata"`

	// MaxMessageSize in bytes, 0 when unlimited or unknown.
	MaxMessageSize int64 `json:"maxMessageSize,omitempty"`
}

// SupportsReliableDelivery reports at-least-once delivery (ack and nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Capability sets of the built-in transports.
var (
	ChannelCapabilities = Capabilities{
		Name:               "channel",
		SupportsOrdering:   true,
		SupportsAck:        true,
		SupportsNack:       true,
		PropagatesMetadata: true,
	}

	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		SupportsOrdering:   true,
		SupportsAck:        true,
		Durable:            true,
		PropagatesMetadata: true,
		MaxMessageSize:     1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		SupportsOrdering:   true,
		SupportsAck:        true,
		SupportsNack:       true,
		Durable:            true,
		PropagatesMetadata: true,
	}

	NATSCapabilities = Capabilities{
		Name:               "nats",
		PropagatesMetadata: true,
		MaxMessageSize:     1048576,
	}

	AWSCapabilities = Capabilities{
		Name:               "aws",
		SupportsAck:        true,
		SupportsNack:       true,
		Durable:            true,
		PropagatesMetadata: true,
		MaxMessageSize:     262144,
	}

	HTTPCapabilities = Capabilities{
		Name:               "http",
		SupportsAck:        true,
		PropagatesMetadata: true,
	}
)
