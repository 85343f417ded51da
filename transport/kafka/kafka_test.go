package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/funcflow/transport"
)

type closeTracker struct {
	message.Publisher
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func stubFactories(t *testing.T, pubErr, subErr error) (*kafka.PublisherConfig, *kafka.SubscriberConfig, *closeTracker) {
	t.Helper()
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = origPub, origSub })

	var pubCfg kafka.PublisherConfig
	var subCfg kafka.SubscriberConfig
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	tracker := &closeTracker{Publisher: pubSub}

	PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		pubCfg = cfg
		if pubErr != nil {
			return nil, pubErr
		}
		return tracker, nil
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		subCfg = cfg
		if subErr != nil {
			return nil, subErr
		}
		return pubSub, nil
	}
	return &pubCfg, &subCfg, tracker
}

func TestBuild(t *testing.T) {
	pubCfg, subCfg, _ := stubFactories(t, nil, nil)

	tr, err := Build(context.Background(), transport.StaticConfig{
		KafkaBrokers:       []string{"localhost:9092"},
		KafkaClientID:      "orders-fn",
		KafkaConsumerGroup: "orders",
	}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)

	assert.Equal(t, []string{"localhost:9092"}, pubCfg.Brokers)
	assert.Equal(t, "orders-fn", pubCfg.OverwriteSaramaConfig.ClientID)
	assert.Equal(t, "orders", subCfg.ConsumerGroup)
	assert.Equal(t, "orders-fn", subCfg.OverwriteSaramaConfig.ClientID)
}

func TestBuildErrors(t *testing.T) {
	t.Run("no brokers", func(t *testing.T) {
		stubFactories(t, nil, nil)
		_, err := Build(context.Background(), transport.StaticConfig{}, watermill.NopLogger{})
		require.ErrorContains(t, err, "brokers are required")
	})

	t.Run("publisher", func(t *testing.T) {
		stubFactories(t, errors.New("publisher error"), nil)
		_, err := Build(context.Background(), transport.StaticConfig{KafkaBrokers: []string{"b:9092"}}, watermill.NopLogger{})
		require.ErrorContains(t, err, "publisher error")
	})

	t.Run("subscriber closes publisher", func(t *testing.T) {
		_, _, tracker := stubFactories(t, nil, errors.New("subscriber error"))
		_, err := Build(context.Background(), transport.StaticConfig{KafkaBrokers: []string{"b:9092"}}, watermill.NopLogger{})
		require.ErrorContains(t, err, "subscriber error")
		assert.True(t, tracker.closed)
	})
}

func TestRegister(t *testing.T) {
	orig := transport.DefaultRegistry
	t.Cleanup(func() { transport.DefaultRegistry = orig })
	transport.DefaultRegistry = transport.NewRegistry()

	Register()
	assert.Equal(t, transport.KafkaCapabilities, transport.GetCapabilities(TransportName))
}
