package builtin

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/funcflow/internal/runtime/config"
	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/plugin"
)

// Shutdown flushes and stops whatever Load started.
type Shutdown func(ctx context.Context) error

func noShutdown(context.Context) error { return nil }

type options struct {
	tracerProvider trace.TracerProvider
	logger         logging.ServiceLogger
}

// Option configures Load.
type Option func(*options)

// WithTracerProvider uses tp instead of an OTLP exporter.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

func WithLogger(log logging.ServiceLogger) Option {
	return func(o *options) { o.logger = log }
}

// Load builds the system plugin registry for conf. Tracing is added when
// pluginsTracing is enabled with a supported provider. Failures leave the
// registry empty and are logged.
func Load(ctx context.Context, conf *config.Function, opts ...Option) (*plugin.Registry, Shutdown) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrDiscard(o.logger)

	if conf == nil || conf.PluginsTracing == nil || !conf.PluginsTracing.Enabled {
		return plugin.NewRegistry(nil, nil), noShutdown
	}

	provider := conf.PluginsTracing.ProviderName()
	switch provider {
	case ProviderOpenTelemetry:
	case ProviderSkyWalking:
		log.Info("Tracing provider is not supported, tracing disabled", logging.LogFields{"provider": provider})
		return plugin.NewRegistry(nil, nil), noShutdown
	default:
		log.Info("Unknown tracing provider, tracing disabled", logging.LogFields{"provider": provider})
		return plugin.NewRegistry(nil, nil), noShutdown
	}

	tp, shutdown := o.tracerProvider, Shutdown(noShutdown)
	if tp == nil {
		sdk, err := newOTLPProvider(ctx, conf)
		if err != nil {
			log.Error("Failed to start tracing exporter, tracing disabled", err, nil)
			return plugin.NewRegistry(nil, nil), noShutdown
		}
		tp, shutdown = sdk, sdk.Shutdown
	}

	names := []string{TracingPluginName}
	reg := plugin.NewRegistry(names, names)
	reg.Add(&plugin.Instance{Plugin: NewTracer(tp, conf), Name: TracingPluginName, Version: plugin.DefaultVersion})
	log.Info("Tracing enabled", logging.LogFields{"provider": provider})
	return reg, shutdown
}

func newOTLPProvider(ctx context.Context, conf *config.Function) (*sdktrace.TracerProvider, error) {
	var exporterOpts []otlptracegrpc.Option
	if p := conf.PluginsTracing.Provider; p != nil && p.OapServer != "" {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithEndpoint(p.OapServer), otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", conf.Name),
		attribute.String("service.version", conf.Version),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
