// Package funcflow hosts user functions on an event-driven runtime. A
// function is described declaratively by a Function (name, runtime, inputs,
// outputs, states and plugins) and implemented as a Handler that receives a
// runtime Context and the raw payload.
//
// NewService resolves the handler from Config.Source and Config.Target (or a
// target registered with Register), loads user plugins from the plugins
// directory and the built-in system plugins, and wires one of two runtimes:
//
//   - knative: the function is served over HTTP with gin. The Context exposes
//     the request and response writer.
//   - async: a Watermill router subscribes to every binding and pub/sub input
//     over the transport selected by Config.PubSubSystem.
//
// Every invocation runs pre-hooks, the handler and post-hooks in order. The
// Context gives handlers Send for fan-out to outputs and State for state
// store operations, both routed through the sidecar client selected by
// Config.SidecarMode (a Dapr HTTP sidecar or the in-process broker backed by
// the configured transport and a SQL state store).
//
// # Transports
//
// funcflow ships six transports, each in its own package under transport/:
//   - channel: in-memory Go channels for tests and local runs
//   - kafka: consumer-group subscriptions
//   - rabbitmq: durable AMQP queues
//   - nats: NATS Core with reconnects
//   - http: messages exchanged as HTTP requests
//   - aws: SNS topics with SQS subscriptions, LocalStack aware
//
// # Middleware
//
// The async router uses correlation IDs, message logging, OpenTelemetry
// tracing, Prometheus metrics, opt-in retries that skip Permanent errors,
// poison queue forwarding and panic recovery. Retries are enabled by a
// positive Config.RetryMaxRetries; otherwise each event runs the pipeline
// once and a failure is nacked to the transport. Custom middleware is added
// through ServiceDependencies.Middlewares.
//
// InvocationHooks observe each invocation; LoggingHooks and AlertingHooks
// cover the common cases and InvocationStats backs the introspection
// endpoint.
package funcflow
