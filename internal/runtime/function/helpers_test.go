package function

import (
	"context"
	"errors"
	"sync"

	"github.com/drblury/funcflow/internal/runtime/config"
	"github.com/drblury/funcflow/internal/runtime/metadata"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

type sidecarCall struct {
	method string
	name   string
	extra  string
	data   []byte
	md     metadata.Metadata
}

type fakeSidecar struct {
	mu    sync.Mutex
	calls []sidecarCall
	fail  map[string]error
	panic map[string]bool
}

func newFakeSidecar() *fakeSidecar {
	return &fakeSidecar{fail: map[string]error{}, panic: map[string]bool{}}
}

func (f *fakeSidecar) record(c sidecarCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.panic[c.name] {
		panic("sidecar exploded")
	}
	return f.fail[c.name]
}

func (f *fakeSidecar) Calls() []sidecarCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sidecarCall(nil), f.calls...)
}

func (f *fakeSidecar) InvokeBinding(_ context.Context, name, operation string, data []byte, md metadata.Metadata) ([]byte, error) {
	if err := f.record(sidecarCall{method: "binding", name: name, extra: operation, data: data, md: md}); err != nil {
		return nil, err
	}
	return []byte(`{"ok":true}`), nil
}

func (f *fakeSidecar) PublishEvent(_ context.Context, pubsub, topic string, data []byte) error {
	return f.record(sidecarCall{method: "publish", name: pubsub, extra: topic, data: data})
}

func (f *fakeSidecar) SaveState(_ context.Context, store string, items []sidecar.StateItem) error {
	return f.record(sidecarCall{method: "save", name: store})
}

func (f *fakeSidecar) GetState(_ context.Context, store, key string) (sidecar.Item, error) {
	if err := f.record(sidecarCall{method: "get", name: store, extra: key}); err != nil {
		return sidecar.Item{}, err
	}
	return sidecar.Item{Key: key, Data: []byte(`"DeathStar"`)}, nil
}

func (f *fakeSidecar) GetBulkState(_ context.Context, store string, req sidecar.BulkRequest) ([]sidecar.Item, error) {
	return nil, f.record(sidecarCall{method: "bulk", name: store})
}

func (f *fakeSidecar) DeleteState(_ context.Context, store, key string) error {
	return f.record(sidecarCall{method: "delete", name: store, extra: key})
}

func (f *fakeSidecar) ExecuteStateTransaction(_ context.Context, store string, req sidecar.TransactionRequest) error {
	return f.record(sidecarCall{method: "transaction", name: store})
}

func (f *fakeSidecar) QueryState(_ context.Context, store string, q sidecar.Query) (sidecar.QueryResponse, error) {
	return sidecar.QueryResponse{}, f.record(sidecarCall{method: "query", name: store})
}

func (f *fakeSidecar) Close() error { return nil }

var errUnavailable = errors.New("sidecar unavailable")

func testFunction() *config.Function {
	return &config.Function{
		Name:    "orders",
		Version: "v1",
		Runtime: config.RuntimeAsync,
		Outputs: map[string]*config.Component{
			"audit":  {ComponentName: "audit-pubsub", ComponentType: "pubsub.kafka", URI: "audit"},
			"mailer": {ComponentName: "smtp", ComponentType: "bindings.smtp", Operation: "create", Metadata: metadata.New("to", "ops")},
			"queue":  {ComponentName: "jobs", ComponentType: "bindings.rabbitmq", Operation: "create"},
		},
		States: map[string]*config.Component{
			"cache":   {ComponentName: "redis-cache", ComponentType: "state.redis"},
			"primary": {ComponentName: "pg", ComponentType: "state.postgresql"},
			"secrets": {ComponentName: "vault", ComponentType: "secretstores.vault"},
		},
	}
}
