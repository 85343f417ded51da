// Package dapr implements the sidecar contract against the Dapr HTTP API.
package dapr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/drblury/funcflow/internal/runtime/config"
	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metadata"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

const (
	apiTokenHeader = "dapr-api-token"
	apiTokenEnv    = "DAPR_API_TOKEN"

	bindingPath     = "/v1.0/bindings/{name}"
	publishPath     = "/v1.0/publish/{pubsub}/{topic}"
	statePath       = "/v1.0/state/{store}"
	stateKeyPath    = "/v1.0/state/{store}/{key}"
	bulkPath        = "/v1.0/state/{store}/bulk"
	transactionPath = "/v1.0/state/{store}/transaction"
	queryPath       = "/v1.0-alpha1/state/{store}/query"
)

// APIError is a non-2xx answer of the sidecar.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.ErrorCode == "" {
		return fmt.Sprintf("dapr: sidecar returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("dapr: sidecar returned status %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Option configures a Client.
type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

func WithRetryCount(n int) Option {
	return func(c *Client) { c.http.SetRetryCount(n) }
}

// WithAPIToken authenticates every request against a token-protected sidecar.
func WithAPIToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.http.SetHeader(apiTokenHeader, token)
		}
	}
}

func WithLogger(log logging.ServiceLogger) Option {
	return func(c *Client) { c.logger = log }
}

// Client talks to a Dapr sidecar over HTTP.
type Client struct {
	http   *resty.Client
	logger logging.ServiceLogger
}

var _ sidecar.Client = (*Client)(nil)

// New creates a client for the sidecar reachable at baseURL.
func New(baseURL string, opts ...Option) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	httpClient.JSONMarshal = jsoncodec.Marshal
	httpClient.JSONUnmarshal = jsoncodec.Unmarshal

	c := &Client{http: httpClient}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger).With(logging.LogFields{"sidecar": baseURL})
	return c
}

// NewFromConfig builds a client from the process configuration; the API
// token is read from DAPR_API_TOKEN.
func NewFromConfig(cfg *config.Config, log logging.ServiceLogger) *Client {
	return New(cfg.SidecarHTTPEndpoint(),
		WithTimeout(cfg.SidecarTimeout),
		WithAPIToken(os.Getenv(apiTokenEnv)),
		WithLogger(log),
	)
}

type bindingRequest struct {
	Data      json.RawMessage   `json:"data,omitempty"`
	Metadata  metadata.Metadata `json:"metadata,omitempty"`
	Operation string            `json:"operation"`
}

func (c *Client) InvokeBinding(ctx context.Context, name, operation string, data []byte, md metadata.Metadata) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("name", name).
		SetBody(bindingRequest{Data: asJSON(data), Metadata: md, Operation: operation}).
		Post(bindingPath)
	if err := c.check(resp, err, "invoke binding", name); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Client) PublishEvent(ctx context.Context, pubsub, topic string, data []byte) error {
	req := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"pubsub": pubsub, "topic": topic}).
		SetBody(data)
	if !jsoncodec.Valid(data) {
		req.SetHeader("Content-Type", "text/plain")
	}
	resp, err := req.Post(publishPath)
	return c.check(resp, err, "publish event", pubsub+"/"+topic)
}

func (c *Client) SaveState(ctx context.Context, store string, items []sidecar.StateItem) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("store", store).
		SetBody(items).
		Post(statePath)
	return c.check(resp, err, "save state", store)
}

func (c *Client) GetState(ctx context.Context, store, key string) (sidecar.Item, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"store": store, "key": key}).
		Get(stateKeyPath)
	if err := c.check(resp, err, "get state", store); err != nil {
		return sidecar.Item{}, err
	}
	item := sidecar.Item{Key: key, Etag: resp.Header().Get("ETag")}
	if resp.StatusCode() != http.StatusNoContent && len(resp.Body()) > 0 {
		item.Data = json.RawMessage(resp.Body())
	}
	return item, nil
}

func (c *Client) GetBulkState(ctx context.Context, store string, req sidecar.BulkRequest) ([]sidecar.Item, error) {
	var items []sidecar.Item
	r := c.http.R().
		SetContext(ctx).
		SetPathParam("store", store).
		SetBody(req).
		SetResult(&items)
	for _, k := range req.Metadata.Keys() {
		r.SetQueryParam("metadata."+k, req.Metadata[k])
	}
	resp, err := r.Post(bulkPath)
	if err := c.check(resp, err, "get bulk state", store); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) DeleteState(ctx context.Context, store, key string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"store": store, "key": key}).
		Delete(stateKeyPath)
	return c.check(resp, err, "delete state", store)
}

func (c *Client) ExecuteStateTransaction(ctx context.Context, store string, req sidecar.TransactionRequest) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("store", store).
		SetBody(req).
		Post(transactionPath)
	return c.check(resp, err, "execute state transaction", store)
}

func (c *Client) QueryState(ctx context.Context, store string, query sidecar.Query) (sidecar.QueryResponse, error) {
	var out sidecar.QueryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("store", store).
		SetBody(query).
		SetResult(&out).
		Post(queryPath)
	if err := c.check(resp, err, "query state", store); err != nil {
		return sidecar.QueryResponse{}, err
	}
	return out, nil
}

func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

func (c *Client) check(resp *resty.Response, err error, op, target string) error {
	fields := logging.LogFields{"operation": op, "target": target}
	if err != nil {
		c.logger.Error("Sidecar request failed", err, fields)
		return fmt.Errorf("dapr: %s %s: %w", op, target, err)
	}
	if !resp.IsError() {
		c.logger.Trace("Sidecar request completed", fields)
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if uerr := jsoncodec.Unmarshal(resp.Body(), apiErr); uerr != nil || apiErr.Message == "" {
		apiErr.Message = resp.String()
	}
	c.logger.Error("Sidecar rejected request", apiErr, fields)
	return apiErr
}

// asJSON embeds valid JSON as-is and wraps anything else in a JSON string.
func asJSON(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	if jsoncodec.Valid(data) {
		return json.RawMessage(data)
	}
	quoted, err := jsoncodec.Marshal(string(data))
	if err != nil {
		return nil
	}
	return quoted
}
