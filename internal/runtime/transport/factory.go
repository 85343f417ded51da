// Package transport connects the runtime configuration to the public
// transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/funcflow/internal/runtime/config"
	registry "github.com/drblury/funcflow/transport"
	_ "github.com/drblury/funcflow/transport/transports"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Capabilities describes the delivery guarantees of a transport.
type Capabilities = registry.Capabilities

// Factory abstracts how funcflow creates the message transport feeding an
// async function.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory returns the factory backed by the default transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errors.New("config is required")
	}
	t, err := registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}
	return Transport{Publisher: t.Publisher, Subscriber: t.Subscriber}, nil
}

// GetCapabilities returns the capabilities registered for a transport name.
func GetCapabilities(name string) Capabilities {
	return registry.GetCapabilities(name)
}
