// Package nats provides the NATS Core transport.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsio "github.com/nats-io/nats.go"

	"github.com/drblury/funcflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// ReconnectWait is the pause between reconnect attempts.
const ReconnectWait = time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the transport to the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.NATSCapabilities)
}

// Options returns the connection options derived from cfg.
func Options(cfg transport.Config) []natsio.Option {
	return []natsio.Option{
		natsio.Name("funcflow"),
		natsio.MaxReconnects(cfg.GetNATSMaxReconnects()),
		natsio.ReconnectWait(ReconnectWait),
	}
}

// Build creates a NATS Core transport with JetStream disabled.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats: URL is required")
	}
	marshaler := &nats.NATSMarshaler{}
	opts := Options(cfg)
	jetStream := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:         url,
		NatsOptions: opts,
		Marshaler:   marshaler,
		JetStream:   jetStream,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(nats.SubscriberConfig{
		URL:         url,
		NatsOptions: opts,
		Unmarshaler: marshaler,
		JetStream:   jetStream,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
