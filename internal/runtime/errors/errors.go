package errors

import (
	sterrors "errors"
	"fmt"
)

// Resolution failures raised while turning a code location and target into a handler.
var (
	ErrModuleNotLoadable  = sterrors.New("funcflow: function module could not be located")
	ErrTargetNotDefined   = sterrors.New("funcflow: target is not defined in the function module")
	ErrTargetNotCallable  = sterrors.New("funcflow: target is not a callable function")
	ErrUnsupportedRuntime = sterrors.New("funcflow: module format is not supported by this runtime version")
	ErrLoadFailure        = sterrors.New("funcflow: function module failed to load")
)

// Plugin and runtime context failures.
var (
	ErrPluginInstantiation = sterrors.New("funcflow: plugin could not be instantiated")
	ErrInvalidStateRequest = sterrors.New("funcflow: state request must name exactly one key")
	ErrSidecarRequired     = sterrors.New("funcflow: sidecar client is required")
)

// Service wiring failures.
var (
	ErrHandlerRequired        = sterrors.New("funcflow: handler function is required")
	ErrFunctionConfigRequired = sterrors.New("funcflow: function configuration is required")
	ErrConfigRequired         = sterrors.New("funcflow: configuration is required")
	ErrLoggerRequired         = sterrors.New("funcflow: logger is required")
	ErrPublisherRequired      = sterrors.New("funcflow: publisher is required")
	ErrTopicRequired          = sterrors.New("funcflow: topic is required")
	ErrUnknownRuntime         = sterrors.New("funcflow: unknown function runtime")
)

// State backend failures.
var (
	ErrStateBackendRequired = sterrors.New("funcflow: state backend is required")
	ErrEtagMismatch         = sterrors.New("funcflow: state etag mismatch")
)

// ConfigValidationError wraps the joined validation failures of a configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("funcflow: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
