package channel

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/funcflow/transport"
)

func TestBuildRoundTrip(t *testing.T) {
	tr, err := Build(context.Background(), transport.StaticConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = tr.Publisher.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := tr.Subscriber.Subscribe(ctx, "orders")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- tr.Publisher.Publish("orders", message.NewMessage("1", []byte("hello")))
	}()

	msg := <-msgs
	assert.Equal(t, "hello", string(msg.Payload))
	msg.Ack()
	require.NoError(t, <-done)
}

func TestBuildBlocksUntilAck(t *testing.T) {
	orig := Factory
	t.Cleanup(func() { Factory = orig })

	var seen gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		seen = cfg
		return orig(cfg, logger)
	}

	_, err := Build(context.Background(), transport.StaticConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.True(t, seen.BlockPublishUntilSubscriberAck)
}

func TestRegister(t *testing.T) {
	orig := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = orig })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()
	tr, err := transport.Build(context.Background(), transport.StaticConfig{PubSubSystem: "Channel"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Subscriber)
	assert.True(t, transport.GetCapabilities(TransportName).SupportsReliableDelivery())
}
