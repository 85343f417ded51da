package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/function"
	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metadata"
	"github.com/drblury/funcflow/internal/runtime/plugin"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

// Phase is a step of one invocation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreHooks
	PhaseHandler
	PhasePostHooks
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePreHooks:
		return "pre_hooks"
	case PhaseHandler:
		return "handler"
	case PhasePostHooks:
		return "post_hooks"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// HookError reports a failing plugin hook.
type HookError struct {
	Phase  Phase
	Plugin string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("funcflow: %s of plugin %q failed: %v", e.Phase, e.Plugin, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// HandlerPanicError is recorded when the user function panics.
type HandlerPanicError struct {
	Value any
	Stack []byte
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("funcflow: function panicked: %v", e.Value)
}

// PipelineDependencies are the collaborators shared by every invocation.
type PipelineDependencies struct {
	UserPlugins   *plugin.Registry
	SystemPlugins *plugin.Registry
	Sidecar       sidecar.Client
	Logger        logging.ServiceLogger
	Hooks         InvocationHooks
}

// Pipeline runs one invocation: user pre-hooks, system pre-hooks, the
// function, system post-hooks and user post-hooks.
type Pipeline struct {
	handler function.Handler
	conf    *config.Function
	user    *plugin.Registry
	system  *plugin.Registry
	lookup  plugin.Chain
	sidecar sidecar.Client
	logger  logging.ServiceLogger
	hooks   InvocationHooks
}

func NewPipeline(handler function.Handler, conf *config.Function, deps PipelineDependencies) (*Pipeline, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if conf == nil {
		return nil, errspkg.ErrFunctionConfigRequired
	}
	user, system := deps.UserPlugins, deps.SystemPlugins
	if user == nil {
		user = plugin.NewRegistry(nil, nil)
	}
	if system == nil {
		system = plugin.NewRegistry(nil, nil)
	}
	return &Pipeline{
		handler: handler,
		conf:    conf,
		user:    user,
		system:  system,
		lookup:  plugin.Chain{user, system},
		sidecar: deps.Sidecar,
		logger:  logging.OrDiscard(deps.Logger),
		hooks:   deps.Hooks,
	}, nil
}

type invocation struct {
	source string
	md     metadata.Metadata
	opts   []function.Option
}

// InvokeOption configures a single invocation.
type InvokeOption func(*invocation)

// WithMetadata attaches the metadata of the inbound event.
func WithMetadata(md metadata.Metadata) InvokeOption {
	return func(inv *invocation) {
		inv.md = md
		inv.opts = append(inv.opts, function.WithMetadata(md))
	}
}

// WithTrigger attaches the HTTP request of a knative invocation.
func WithTrigger(r *http.Request, w http.ResponseWriter) InvokeOption {
	return func(inv *invocation) { inv.opts = append(inv.opts, function.WithTrigger(r, w)) }
}

// WithSource names the input the event arrived on.
func WithSource(name string) InvokeOption {
	return func(inv *invocation) { inv.source = name }
}

// WithContextOptions passes extra options to the runtime context.
func WithContextOptions(opts ...function.Option) InvokeOption {
	return func(inv *invocation) { inv.opts = append(inv.opts, opts...) }
}

// Invoke runs the pipeline for one event. A failing pre-hook aborts before
// the function runs. A function error is deferred until every post-hook
// ran and is then returned.
func (p *Pipeline) Invoke(ctx context.Context, data []byte, opts ...InvokeOption) error {
	var inv invocation
	for _, opt := range opts {
		opt(&inv)
	}

	base := []function.Option{
		function.WithSidecar(p.sidecar),
		function.WithLogger(p.logger),
		function.WithPlugins(p.lookup),
	}
	fc := function.NewContext(ctx, p.conf, append(base, inv.opts...)...)

	info := InvocationInfo{
		Function:     p.conf.Name,
		InvocationID: fc.InvocationID(),
		Source:       inv.source,
		Metadata:     inv.md,
		StartedAt:    time.Now(),
	}
	if p.hooks.OnStart != nil {
		p.hooks.OnStart(info)
	}

	err := p.run(fc, data)

	info.Duration = time.Since(info.StartedAt)
	if err != nil {
		if p.hooks.OnError != nil {
			p.hooks.OnError(info, err)
		}
	} else if p.hooks.OnDone != nil {
		p.hooks.OnDone(info)
	}
	return err
}

func (p *Pipeline) run(fc *function.Context, data []byte) error {
	for _, inst := range p.preHooks() {
		if err := p.execHook(PhasePreHooks, inst, fc); err != nil {
			return err
		}
	}

	if err := p.callHandler(fc, data); err != nil {
		fc.SetError(err)
	}

	var postErr error
	for _, inst := range p.postHooks() {
		if err := p.execHook(PhasePostHooks, inst, fc); err != nil {
			postErr = err
			break
		}
	}

	switch {
	case postErr == nil:
		return fc.Err()
	case fc.Err() == nil:
		return postErr
	default:
		return errors.Join(fc.Err(), postErr)
	}
}

func (p *Pipeline) preHooks() []*plugin.Instance {
	return append(p.user.PreHooks(), p.system.PreHooks()...)
}

func (p *Pipeline) postHooks() []*plugin.Instance {
	return append(p.system.PostHooks(), p.user.PostHooks()...)
}

func (p *Pipeline) execHook(phase Phase, inst *plugin.Instance, fc *function.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Phase: phase, Plugin: inst.Name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if phase == PhasePreHooks {
		err = inst.ExecPreHook(fc.Context(), fc, p.lookup)
	} else {
		err = inst.ExecPostHook(fc.Context(), fc, p.lookup)
	}
	if err != nil {
		return &HookError{Phase: phase, Plugin: inst.Name, Err: err}
	}
	return nil
}

func (p *Pipeline) callHandler(fc *function.Context, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerPanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p.handler(fc.Context(), fc, data)
}

// Plugins returns the user and system plugin registries.
func (p *Pipeline) Plugins() (user, system *plugin.Registry) {
	return p.user, p.system
}
