package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/funcflow/internal/runtime/config"
	"github.com/drblury/funcflow/internal/runtime/function"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metadata"
	"github.com/drblury/funcflow/internal/runtime/plugin"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
	transportpkg "github.com/drblury/funcflow/internal/runtime/transport"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type testPublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, topic)
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

type testSubscriber struct{}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

type staticFactory struct {
	pub message.Publisher
	sub message.Subscriber
	err error
}

func (f staticFactory) Build(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
	return transportpkg.Transport{Publisher: f.pub, Subscriber: f.sub}, f.err
}

// recorder collects the order in which hooks and handlers ran.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// localPhases is the Locals key holding the per-invocation phase log.
const localPhases = "phases"

func appendPhase(fc *function.Context, phase string) {
	phases, _ := fc.Locals()[localPhases].([]string)
	fc.Locals()[localPhases] = append(phases, phase)
}

// recordingPlugin keeps nothing per invocation on the instance: its phase
// log and the handler error it observed live in fc.Locals().
type recordingPlugin struct {
	plugin.Base
	name    string
	rec     *recorder
	preErr  error
	postErr error
}

func (p *recordingPlugin) ExecPreHook(_ context.Context, fc *function.Context, _ plugin.Lookup) error {
	p.rec.add(p.name + ".pre")
	appendPhase(fc, p.name+".pre")
	return p.preErr
}

func (p *recordingPlugin) ExecPostHook(_ context.Context, fc *function.Context, _ plugin.Lookup) error {
	p.rec.add(p.name + ".post")
	appendPhase(fc, p.name+".post")
	if err := fc.Err(); err != nil {
		fc.Locals()[p.name+".err"] = err
	}
	return p.postErr
}

// localsReporter runs as the last post-hook and hands a copy of the
// invocation locals to the test.
type localsReporter struct {
	plugin.Base
	out chan map[string]any
}

func (r *localsReporter) ExecPostHook(_ context.Context, fc *function.Context, _ plugin.Lookup) error {
	snapshot := make(map[string]any, len(fc.Locals()))
	for k, v := range fc.Locals() {
		snapshot[k] = v
	}
	r.out <- snapshot
	return nil
}

func registryOf(pre, post []string, plugins ...*recordingPlugin) *plugin.Registry {
	reg := plugin.NewRegistry(pre, post)
	for _, p := range plugins {
		reg.Add(&plugin.Instance{Plugin: p, Name: p.name, Version: plugin.DefaultVersion})
	}
	return reg
}

// reportingRegistryOf is registryOf with a localsReporter appended to the
// post order.
func reportingRegistryOf(pre, post []string, out chan map[string]any, plugins ...*recordingPlugin) *plugin.Registry {
	reg := registryOf(pre, append(append([]string(nil), post...), "locals"), plugins...)
	reg.Add(&plugin.Instance{Plugin: &localsReporter{out: out}, Name: "locals", Version: plugin.DefaultVersion})
	return reg
}

func recordingHandler(rec *recorder, err error) function.Handler {
	return func(ctx context.Context, fc *function.Context, data []byte) error {
		rec.add("handler")
		appendPhase(fc, "handler")
		return err
	}
}

type fakeSidecar struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newFakeSidecar() *fakeSidecar { return &fakeSidecar{fail: map[string]error{}} }

func (f *fakeSidecar) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.fail[name]
}

func (f *fakeSidecar) InvokeBinding(_ context.Context, name, _ string, _ []byte, _ metadata.Metadata) ([]byte, error) {
	return nil, f.record(name)
}

func (f *fakeSidecar) PublishEvent(_ context.Context, pubsub, _ string, _ []byte) error {
	return f.record(pubsub)
}

func (f *fakeSidecar) SaveState(_ context.Context, store string, _ []sidecar.StateItem) error {
	return f.record(store)
}

func (f *fakeSidecar) GetState(_ context.Context, store, _ string) (sidecar.Item, error) {
	return sidecar.Item{}, f.record(store)
}

func (f *fakeSidecar) GetBulkState(_ context.Context, store string, _ sidecar.BulkRequest) ([]sidecar.Item, error) {
	return nil, f.record(store)
}

func (f *fakeSidecar) DeleteState(_ context.Context, store, _ string) error {
	return f.record(store)
}

func (f *fakeSidecar) ExecuteStateTransaction(_ context.Context, store string, _ sidecar.TransactionRequest) error {
	return f.record(store)
}

func (f *fakeSidecar) QueryState(_ context.Context, store string, _ sidecar.Query) (sidecar.QueryResponse, error) {
	return sidecar.QueryResponse{}, f.record(store)
}

func (f *fakeSidecar) Close() error { return nil }

var errBoom = errors.New("boom")

func testFunction(runtime configpkg.RuntimeKind) *configpkg.Function {
	return &configpkg.Function{
		Name:    "orders",
		Version: "v1",
		Runtime: runtime,
		Inputs: map[string]*configpkg.Component{
			"cron":    {ComponentName: "cron-input", ComponentType: "bindings.cron"},
			"events":  {ComponentName: "kafka-pubsub", ComponentType: "pubsub.kafka", URI: "orders"},
			"secrets": {ComponentName: "vault", ComponentType: "secretstores.vault"},
		},
		Outputs: map[string]*configpkg.Component{
			"audit":  {ComponentName: "audit-pubsub", ComponentType: "pubsub.kafka", URI: "audit"},
			"mailer": {ComponentName: "smtp", ComponentType: "bindings.smtp", Operation: "create"},
			"queue":  {ComponentName: "jobs", ComponentType: "bindings.rabbitmq", Operation: "create"},
		},
	}
}

func testConfig(t *testing.T) *configpkg.Config {
	t.Helper()
	conf, err := configpkg.New()
	if err != nil {
		t.Fatalf("config defaults: %v", err)
	}
	conf.SidecarMode = configpkg.SidecarModeNone
	conf.MetricsEnabled = false
	return conf
}
