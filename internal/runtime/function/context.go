// Package function holds the per-invocation runtime context handed to user
// functions and plugins, together with the declarative function registry.
package function

import (
	"context"
	"net/http"
	"os"

	"github.com/drblury/funcflow/internal/runtime/config"
	"github.com/drblury/funcflow/internal/runtime/ids"
	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metadata"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

// Handler is the signature of a user function.
type Handler func(ctx context.Context, fc *Context, data []byte) error

// PluginInstance is the read side of a loaded plugin.
type PluginInstance interface {
	Get(field string) (any, bool)
}

// PluginLookup finds loaded plugins by name.
type PluginLookup interface {
	LookupPlugin(name string) (PluginInstance, bool)
}

// SidecarPorts are the ports the sidecar listens on.
type SidecarPorts struct {
	HTTP string
	GRPC string
}

const (
	defaultSidecarHTTPPort = "3500"
	defaultSidecarGRPCPort = "50001"
)

// SidecarPortsFromEnv reads DAPR_HTTP_PORT and DAPR_GRPC_PORT.
func SidecarPortsFromEnv() SidecarPorts {
	ports := SidecarPorts{HTTP: defaultSidecarHTTPPort, GRPC: defaultSidecarGRPCPort}
	if v := os.Getenv("DAPR_HTTP_PORT"); v != "" {
		ports.HTTP = v
	}
	if v := os.Getenv("DAPR_GRPC_PORT"); v != "" {
		ports.GRPC = v
	}
	return ports
}

// Option configures a Context.
type Option func(*Context)

func WithSidecar(client sidecar.Client) Option {
	return func(fc *Context) { fc.sidecar = client }
}

func WithLogger(log logging.ServiceLogger) Option {
	return func(fc *Context) { fc.logger = log }
}

func WithPlugins(plugins PluginLookup) Option {
	return func(fc *Context) { fc.plugins = plugins }
}

// WithTrigger attaches the HTTP request that triggered a knative invocation.
func WithTrigger(r *http.Request, w http.ResponseWriter) Option {
	return func(fc *Context) { fc.SetTrigger(r, w) }
}

// WithMetadata attaches the metadata of the inbound event.
func WithMetadata(md metadata.Metadata) Option {
	return func(fc *Context) { fc.md = md.Clone() }
}

func WithSidecarPorts(ports SidecarPorts) Option {
	return func(fc *Context) { fc.ports = ports }
}

// Context is the runtime context of one invocation. Configuration is read
// through accessors backed by the shared, immutable function configuration;
// everything else belongs to the invocation and must not be shared.
type Context struct {
	conf *config.Function
	ctx  context.Context

	sidecar sidecar.Client
	plugins PluginLookup
	logger  logging.ServiceLogger
	ports   SidecarPorts

	invocationID string
	locals       map[string]any
	md           metadata.Metadata
	err          error

	req *http.Request
	w   http.ResponseWriter
}

// NewContext builds a fresh invocation context.
func NewContext(ctx context.Context, conf *config.Function, opts ...Option) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if conf == nil {
		conf = &config.Function{}
	}
	fc := &Context{
		conf:         conf,
		ctx:          ctx,
		invocationID: ids.CreateULID(),
		locals:       make(map[string]any),
		md:           metadata.Metadata{},
	}
	fc.ports = SidecarPortsFromEnv()
	for _, opt := range opts {
		opt(fc)
	}
	fc.logger = logging.OrDiscard(fc.logger).With(logging.LogFields{
		"function":      conf.Name,
		"invocation_id": fc.invocationID,
	})
	return fc
}

func (fc *Context) Name() string                          { return fc.conf.Name }
func (fc *Context) Version() string                       { return fc.conf.Version }
func (fc *Context) Runtime() config.RuntimeKind           { return fc.conf.Runtime }
func (fc *Context) Port() string                          { return fc.conf.Port }
func (fc *Context) Inputs() map[string]*config.Component  { return fc.conf.Inputs }
func (fc *Context) Outputs() map[string]*config.Component { return fc.conf.Outputs }
func (fc *Context) States() map[string]*config.Component  { return fc.conf.States }
func (fc *Context) PrePlugins() []string                  { return fc.conf.PrePlugins }
func (fc *Context) PostPlugins() []string                 { return fc.conf.PostPlugins }
func (fc *Context) Tracing() *config.TraceConfig          { return fc.conf.PluginsTracing }
func (fc *Context) Config() *config.Function              { return fc.conf }
func (fc *Context) SidecarPorts() SidecarPorts            { return fc.ports }
func (fc *Context) InvocationID() string                  { return fc.invocationID }
func (fc *Context) Logger() logging.ServiceLogger         { return fc.logger }
func (fc *Context) Metadata() metadata.Metadata           { return fc.md }
func (fc *Context) Request() *http.Request                { return fc.req }
func (fc *Context) ResponseWriter() http.ResponseWriter   { return fc.w }
func (fc *Context) Locals() map[string]any                { return fc.locals }
func (fc *Context) Err() error                            { return fc.err }

// SetError records the handler failure so post-hooks can observe it.
func (fc *Context) SetError(err error) { fc.err = err }

// Context returns the invocation's context.Context.
func (fc *Context) Context() context.Context { return fc.ctx }

// SetContext replaces the invocation's context.Context, for example with one
// carrying a tracing span. Nil is ignored.
func (fc *Context) SetContext(ctx context.Context) {
	if ctx != nil {
		fc.ctx = ctx
	}
}

// SetTrigger records the HTTP exchange of a knative invocation.
func (fc *Context) SetTrigger(r *http.Request, w http.ResponseWriter) {
	fc.req = r
	fc.w = w
}

// Plugin finds a loaded user or system plugin by name.
func (fc *Context) Plugin(name string) (PluginInstance, bool) {
	if fc.plugins == nil {
		return nil, false
	}
	return fc.plugins.LookupPlugin(name)
}

// State exposes the state store operations of this invocation.
func (fc *Context) State() *StateOps {
	return &StateOps{fc: fc}
}
