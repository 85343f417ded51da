// Package transport is the registry of Watermill transports that feed async
// functions. Each transport lives in its own sub-package and registers itself
// under the name used by the pubsub_system setting.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the settings transports read. Each transport only uses the
// getters relevant to it.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string
	GetNATSMaxReconnects() int

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// StaticConfig is a Config backed by plain fields.
type StaticConfig struct {
	PubSubSystem       string
	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	NATSMaxReconnects  int
	HTTPServerAddress  string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c StaticConfig) GetPubSubSystem() string       { return c.PubSubSystem }
func (c StaticConfig) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c StaticConfig) GetKafkaClientID() string      { return c.KafkaClientID }
func (c StaticConfig) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c StaticConfig) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c StaticConfig) GetNATSURL() string            { return c.NATSURL }
func (c StaticConfig) GetNATSMaxReconnects() int     { return c.NATSMaxReconnects }
func (c StaticConfig) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c StaticConfig) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c StaticConfig) GetAWSRegion() string          { return c.AWSRegion }
func (c StaticConfig) GetAWSAccountID() string       { return c.AWSAccountID }
func (c StaticConfig) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c StaticConfig) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c StaticConfig) GetAWSEndpoint() string        { return c.AWSEndpoint }
