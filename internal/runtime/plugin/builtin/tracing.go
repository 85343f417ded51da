// Package builtin provides the system plugins that wrap every invocation
// closest to the user function.
package builtin

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/funcflow/internal/runtime/config"
	"github.com/drblury/funcflow/internal/runtime/function"
	"github.com/drblury/funcflow/internal/runtime/plugin"
)

// Tracing provider names accepted in pluginsTracing.provider.name.
const (
	ProviderOpenTelemetry = "opentelemetry"
	ProviderSkyWalking    = "skywalking"
)

const (
	// TracingPluginName is the registry name of the tracing plugin.
	TracingPluginName = "tracing"
	// LocalTraceID is the Locals key holding the hex trace id of the invocation.
	LocalTraceID = "traceId"

	localSpan         = "funcflow.tracing.span"
	instrumentation   = "github.com/drblury/funcflow"
	attrRuntime       = "funcflow.runtime"
	attrInvocationID  = "funcflow.invocation_id"
	fieldProviderName = "provider"
)

// Tracer starts a server span before the user function and ends it after
// the post hooks of the system registry ran.
type Tracer struct {
	plugin.Base
	tracer   trace.Tracer
	provider string
	attrs    []attribute.KeyValue
	baggage  map[string]string
}

// NewTracer creates the tracing plugin for conf using tp.
func NewTracer(tp trace.TracerProvider, conf *config.Function) *Tracer {
	t := &Tracer{tracer: tp.Tracer(instrumentation), provider: ProviderOpenTelemetry}
	if conf == nil {
		return t
	}
	t.attrs = append(t.attrs, attribute.String(attrRuntime, string(conf.Runtime)))
	if tc := conf.PluginsTracing; tc != nil {
		keys := make([]string, 0, len(tc.Tags))
		for k := range tc.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.attrs = append(t.attrs, attribute.String(k, tc.Tags[k]))
		}
		t.baggage = tc.Baggage
	}
	return t
}

func (t *Tracer) ExecPreHook(_ context.Context, fc *function.Context, _ plugin.Lookup) error {
	ctx := fc.Context()
	if bag, err := t.newBaggage(); err != nil {
		fc.Logger().Error("Ignoring invalid tracing baggage", err, nil)
	} else if bag.Len() > 0 {
		ctx = baggage.ContextWithBaggage(ctx, bag)
	}

	attrs := append([]attribute.KeyValue{attribute.String(attrInvocationID, fc.InvocationID())}, t.attrs...)
	ctx, span := t.tracer.Start(ctx, "/"+fc.Name(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	fc.SetContext(ctx)
	fc.Locals()[localSpan] = span
	fc.Locals()[LocalTraceID] = span.SpanContext().TraceID().String()
	return nil
}

func (t *Tracer) ExecPostHook(_ context.Context, fc *function.Context, _ plugin.Lookup) error {
	span, ok := fc.Locals()[localSpan].(trace.Span)
	if !ok {
		return nil
	}
	if err := fc.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	delete(fc.Locals(), localSpan)
	return nil
}

func (t *Tracer) Get(field string) (any, bool) {
	if field == fieldProviderName {
		return t.provider, true
	}
	return nil, false
}

func (t *Tracer) newBaggage() (baggage.Baggage, error) {
	members := make([]baggage.Member, 0, len(t.baggage))
	for k, v := range t.baggage {
		m, err := baggage.NewMemberRaw(k, v)
		if err != nil {
			return baggage.Baggage{}, fmt.Errorf("baggage %q: %w", k, err)
		}
		members = append(members, m)
	}
	return baggage.New(members...)
}

var _ plugin.Plugin = (*Tracer)(nil)
