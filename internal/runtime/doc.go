/*
Package runtime hosts a single function and runs every inbound event through
its hook pipeline.

# Invocation pipeline

Pipeline.Invoke is the one seam every adapter calls. Each call builds a fresh
function.Context and runs:

	user pre-hooks -> system pre-hooks -> function -> system post-hooks -> user post-hooks

A failing pre-hook aborts the invocation and is returned as a *HookError. A
function error (or panic, reported as *HandlerPanicError) is recorded on the
context, the post-hooks still run, and the error is returned once they are
done. A failing post-hook stops the remaining post-hooks and is joined with
the function error.

# Service

Service resolves the function through the loader package, loads user plugins
from the code location and the built-in system plugins, selects the sidecar
client and wires one of two adapters:

  - async functions subscribe to their binding and pub-sub inputs through a
    Watermill router fed by the transport registry;
  - knative functions are served by a gin engine on the function port.

Both can expose Prometheus metrics on /metrics and a JSON description of the
function on /api/function.

# Middleware

The async router carries the default chain: correlation IDs, message logging,
OpenTelemetry spans, Prometheus router metrics, retries and poison queue
forwarding, and panic recovery. Wrap an error with Permanent to skip retries
and route the event to the poison queue.

# Lifecycle hooks

InvocationHooks observe every invocation. LoggingHooks, InvocationStats and
the Prometheus collectors are always attached; ServiceDependencies.Hooks adds
custom ones.
*/
package runtime
