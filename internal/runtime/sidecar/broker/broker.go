// Package broker implements the sidecar contract in-process: bindings and
// pub/sub events go to a Watermill publisher and state goes to a StateBackend.
package broker

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/ids"
	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metadata"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

// Metadata keys set on every message leaving the broker sidecar.
const (
	MetadataKeyOperation = "funcflow_operation"
	MetadataKeyComponent = "funcflow_component"
)

// StateBackend stores state for the broker sidecar.
type StateBackend interface {
	Save(ctx context.Context, store string, items []sidecar.StateItem) error
	Get(ctx context.Context, store, key string) (sidecar.Item, error)
	GetBulk(ctx context.Context, store string, keys []string) ([]sidecar.Item, error)
	Delete(ctx context.Context, store, key string) error
	Transact(ctx context.Context, store string, ops []sidecar.TransactionOperation) error
	Query(ctx context.Context, store string, q sidecar.Query) (sidecar.QueryResponse, error)
	Close() error
}

// Client publishes through Watermill and keeps state in a StateBackend.
type Client struct {
	publisher message.Publisher
	state     StateBackend
	logger    logging.ServiceLogger
}

var _ sidecar.Client = (*Client)(nil)

// New creates a broker sidecar. state may be nil when no state store is used.
func New(publisher message.Publisher, state StateBackend, log logging.ServiceLogger) (*Client, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	return &Client{publisher: publisher, state: state, logger: logging.OrDiscard(log)}, nil
}

// InvokeBinding publishes data on the topic named after the binding. Output
// bindings are fire-and-forget, so the response is always empty.
func (c *Client) InvokeBinding(ctx context.Context, name, operation string, data []byte, md metadata.Metadata) ([]byte, error) {
	if name == "" {
		return nil, errspkg.ErrTopicRequired
	}
	msg := c.newMessage(ctx, data, md)
	msg.Metadata.Set(MetadataKeyComponent, name)
	if operation != "" {
		msg.Metadata.Set(MetadataKeyOperation, operation)
	}
	if err := c.publisher.Publish(name, msg); err != nil {
		return nil, fmt.Errorf("broker: invoke binding %s: %w", name, err)
	}
	c.logger.Debug("Binding invoked", logging.LogFields{"binding": name, "operation": operation, "message_uuid": msg.UUID})
	return nil, nil
}

func (c *Client) PublishEvent(ctx context.Context, pubsub, topic string, data []byte) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	msg := c.newMessage(ctx, data, nil)
	msg.Metadata.Set(MetadataKeyComponent, pubsub)
	if err := c.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("broker: publish %s/%s: %w", pubsub, topic, err)
	}
	c.logger.Debug("Event published", logging.LogFields{"pubsub": pubsub, "topic": topic, "message_uuid": msg.UUID})
	return nil
}

func (c *Client) SaveState(ctx context.Context, store string, items []sidecar.StateItem) error {
	if c.state == nil {
		return errspkg.ErrStateBackendRequired
	}
	return c.state.Save(ctx, store, items)
}

func (c *Client) GetState(ctx context.Context, store, key string) (sidecar.Item, error) {
	if c.state == nil {
		return sidecar.Item{}, errspkg.ErrStateBackendRequired
	}
	return c.state.Get(ctx, store, key)
}

func (c *Client) GetBulkState(ctx context.Context, store string, req sidecar.BulkRequest) ([]sidecar.Item, error) {
	if c.state == nil {
		return nil, errspkg.ErrStateBackendRequired
	}
	return c.state.GetBulk(ctx, store, req.Keys)
}

func (c *Client) DeleteState(ctx context.Context, store, key string) error {
	if c.state == nil {
		return errspkg.ErrStateBackendRequired
	}
	return c.state.Delete(ctx, store, key)
}

func (c *Client) ExecuteStateTransaction(ctx context.Context, store string, req sidecar.TransactionRequest) error {
	if c.state == nil {
		return errspkg.ErrStateBackendRequired
	}
	return c.state.Transact(ctx, store, req.Operations)
}

func (c *Client) QueryState(ctx context.Context, store string, query sidecar.Query) (sidecar.QueryResponse, error) {
	if c.state == nil {
		return sidecar.QueryResponse{}, errspkg.ErrStateBackendRequired
	}
	return c.state.Query(ctx, store, query)
}

// Close releases the state backend. The publisher belongs to the transport.
func (c *Client) Close() error {
	if c.state == nil {
		return nil
	}
	return c.state.Close()
}

func (c *Client) newMessage(ctx context.Context, data []byte, md metadata.Metadata) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), data)
	msg.Metadata = metadata.ToWatermill(md)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return msg
}
