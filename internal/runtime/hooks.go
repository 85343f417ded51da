package runtime

import (
	"errors"
	"time"

	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metadata"
)

// InvocationInfo describes one invocation to lifecycle hooks.
type InvocationInfo struct {
	// Function is the name of the invoked function.
	Function string
	// InvocationID is the ULID of the runtime context.
	InvocationID string
	// Source is the input the event arrived on, or "http" for knative.
	Source string
	// Metadata is the metadata of the inbound event.
	Metadata metadata.Metadata
	// StartedAt is when the pipeline started.
	StartedAt time.Time
	// Duration is only set in OnDone and OnError.
	Duration time.Duration
}

// InvocationHooks observe the invocation lifecycle. Nil hooks are skipped.
type InvocationHooks struct {
	OnStart func(info InvocationInfo)
	OnDone  func(info InvocationInfo)
	OnError func(info InvocationInfo, err error)
}

// Merge returns hooks calling h first and other second.
func (h InvocationHooks) Merge(other InvocationHooks) InvocationHooks {
	return InvocationHooks{
		OnStart: chainInfo(h.OnStart, other.OnStart),
		OnDone:  chainInfo(h.OnDone, other.OnDone),
		OnError: chainError(h.OnError, other.OnError),
	}
}

func chainInfo(a, b func(InvocationInfo)) func(InvocationInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info InvocationInfo) {
		a(info)
		b(info)
	}
}

func chainError(a, b func(InvocationInfo, error)) func(InvocationInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info InvocationInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

// LoggingHooks log the start and outcome of every invocation.
func LoggingHooks(log logging.ServiceLogger) InvocationHooks {
	log = logging.OrDiscard(log)
	return InvocationHooks{
		OnStart: func(info InvocationInfo) {
			log.Debug("Invocation started", logging.LogFields{
				"function":      info.Function,
				"invocation_id": info.InvocationID,
				"source":        info.Source,
			})
		},
		OnDone: func(info InvocationInfo) {
			log.Info("Invocation completed", logging.LogFields{
				"function":      info.Function,
				"invocation_id": info.InvocationID,
				"source":        info.Source,
				"duration_ms":   info.Duration.Milliseconds(),
			})
		},
		OnError: func(info InvocationInfo, err error) {
			fields := logging.LogFields{
				"function":      info.Function,
				"invocation_id": info.InvocationID,
				"source":        info.Source,
				"duration_ms":   info.Duration.Milliseconds(),
			}
			var hookErr *HookError
			if errors.As(err, &hookErr) {
				fields["plugin"] = hookErr.Plugin
				fields["phase"] = hookErr.Phase.String()
			}
			log.Error("Invocation failed", err, fields)
		},
	}
}

// AlertingHooks call alert for every failed invocation.
func AlertingHooks(alert func(info InvocationInfo, err error)) InvocationHooks {
	return InvocationHooks{OnError: alert}
}
