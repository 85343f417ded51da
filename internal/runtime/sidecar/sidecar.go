// Package sidecar defines the contract between function runtime contexts and
// the sidecar process that fronts bindings, pub/sub brokers and state stores.
package sidecar

import (
	"context"
	"encoding/json"

	"github.com/drblury/funcflow/internal/runtime/metadata"
)

// Transaction operation names.
const (
	OperationUpsert = "upsert"
	OperationDelete = "delete"
)

// Client is implemented by every sidecar backend.
type Client interface {
	InvokeBinding(ctx context.Context, name, operation string, data []byte, md metadata.Metadata) ([]byte, error)
	PublishEvent(ctx context.Context, pubsub, topic string, data []byte) error

	SaveState(ctx context.Context, store string, items []StateItem) error
	GetState(ctx context.Context, store, key string) (Item, error)
	GetBulkState(ctx context.Context, store string, req BulkRequest) ([]Item, error)
	DeleteState(ctx context.Context, store, key string) error
	ExecuteStateTransaction(ctx context.Context, store string, req TransactionRequest) error
	QueryState(ctx context.Context, store string, query Query) (QueryResponse, error)

	Close() error
}

// StateItem is a key/value pair written to a state store. Value is encoded as JSON.
type StateItem struct {
	Key      string            `json:"key"`
	Value    any               `json:"value,omitempty"`
	Etag     string            `json:"etag,omitempty"`
	Metadata metadata.Metadata `json:"metadata,omitempty"`
}

// Item is a value read back from a state store.
type Item struct {
	Key   string          `json:"key"`
	Data  json.RawMessage `json:"data,omitempty"`
	Etag  string          `json:"etag,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Found reports whether the store returned a value.
func (i Item) Found() bool { return len(i.Data) > 0 }

// BulkRequest reads several keys at once.
type BulkRequest struct {
	Keys        []string          `json:"keys"`
	Parallelism int               `json:"parallelism,omitempty"`
	Metadata    metadata.Metadata `json:"-"`
}

// TransactionOperation is one upsert or delete inside a transaction.
type TransactionOperation struct {
	Operation string    `json:"operation"`
	Request   StateItem `json:"request"`
}

// TransactionRequest groups operations executed atomically by the store.
type TransactionRequest struct {
	Operations []TransactionOperation `json:"operations"`
	Metadata   metadata.Metadata      `json:"metadata,omitempty"`
}

// Query is the state query document: a filter tree of EQ, IN, AND and OR
// nodes over dotted value paths, an optional sort and a page.
type Query struct {
	Filter map[string]any `json:"filter,omitempty"`
	Sort   []SortKey      `json:"sort,omitempty"`
	Page   Page           `json:"page,omitempty"`
}

type SortKey struct {
	Key   string `json:"key"`
	Order string `json:"order,omitempty"`
}

type Page struct {
	Limit int    `json:"limit,omitempty"`
	Token string `json:"token,omitempty"`
}

// QueryResponse carries one page of query results.
type QueryResponse struct {
	Results  []Item            `json:"results"`
	Token    string            `json:"token,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
