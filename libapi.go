package funcflow

import (
	runtimepkg "github.com/drblury/funcflow/internal/runtime"
	configpkg "github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	functionpkg "github.com/drblury/funcflow/internal/runtime/function"
	idspkg "github.com/drblury/funcflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/funcflow/internal/runtime/jsoncodec"
	loaderpkg "github.com/drblury/funcflow/internal/runtime/loader"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/funcflow/internal/runtime/metadata"
	pluginpkg "github.com/drblury/funcflow/internal/runtime/plugin"
	sidecarpkg "github.com/drblury/funcflow/internal/runtime/sidecar"
	transportpkg "github.com/drblury/funcflow/internal/runtime/transport"
	newtransport "github.com/drblury/funcflow/transport"
)

type (
	Config              = configpkg.Config
	Function            = configpkg.Function
	Component           = configpkg.Component
	RuntimeKind         = configpkg.RuntimeKind
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	FunctionInfo        = runtimepkg.FunctionInfo
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	// Function authoring
	Handler      = functionpkg.Handler
	Context      = functionpkg.Context
	Settled      = functionpkg.Settled
	SettleStatus = functionpkg.SettleStatus
	KeyRequest   = functionpkg.KeyRequest

	// Plugins
	Plugin         = pluginpkg.Plugin
	PluginBase     = pluginpkg.Base
	PluginLookup   = pluginpkg.Lookup
	PluginFactory  = pluginpkg.Factory
	PluginManifest = pluginpkg.Manifest

	// Sidecar
	SidecarClient      = sidecarpkg.Client
	StateItem          = sidecarpkg.StateItem
	StateEntry         = sidecarpkg.Item
	StateQuery         = sidecarpkg.Query
	TransactionRequest = sidecarpkg.TransactionRequest

	Pipeline             = runtimepkg.Pipeline
	PipelineDependencies = runtimepkg.PipelineDependencies
	InvokeOption         = runtimepkg.InvokeOption
	Phase                = runtimepkg.Phase

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ResolverOption  = loaderpkg.ResolverOption
	ModuleLoader    = loaderpkg.ModuleLoader
	ResolutionError = loaderpkg.ResolutionError

	HookError             = runtimepkg.HookError
	HandlerPanicError     = runtimepkg.HandlerPanicError
	PermanentError        = runtimepkg.PermanentError
	ConfigValidationError = errspkg.ConfigValidationError

	// Invocation lifecycle hooks
	InvocationInfo  = runtimepkg.InvocationInfo
	InvocationHooks = runtimepkg.InvocationHooks

	// Error classification and stats
	InvocationStats = runtimepkg.InvocationStats
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Transport capabilities
	Capabilities = transportpkg.Capabilities

	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry
)

var (
	NewService       = runtimepkg.NewService
	NewPipeline      = runtimepkg.NewPipeline
	NewConfig        = configpkg.New
	ValidateConfig   = configpkg.ValidateConfig
	ParseFunction    = configpkg.ParseFunction
	LoadFunctionFile = configpkg.LoadFunctionFile
	FunctionFromEnv  = configpkg.FunctionFromEnv

	// Register declares a handler under a target name so it can be resolved
	// without a module file.
	Register       = functionpkg.Register
	EncodePayload  = functionpkg.EncodePayload
	JoinErrors     = functionpkg.JoinErrors
	NewManifest    = pluginpkg.NewManifest
	SimplePlugin   = pluginpkg.Simple
	NewResolver    = loaderpkg.NewResolver
	WithRegistry   = loaderpkg.WithRegistry
	WithMinVersion = loaderpkg.WithMinVersion

	WithMetadata = runtimepkg.WithMetadata
	WithTrigger  = runtimepkg.WithTrigger
	WithSource   = runtimepkg.WithSource

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	Permanent   = runtimepkg.Permanent
	IsPermanent = runtimepkg.IsPermanent

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	GetCapabilities = transportpkg.GetCapabilities

	// Import individual transports via: _ "github.com/drblury/funcflow/transport/kafka"
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrModuleNotLoadable      = errspkg.ErrModuleNotLoadable
	ErrTargetNotDefined       = errspkg.ErrTargetNotDefined
	ErrTargetNotCallable      = errspkg.ErrTargetNotCallable
	ErrUnsupportedRuntime     = errspkg.ErrUnsupportedRuntime
	ErrLoadFailure            = errspkg.ErrLoadFailure
	ErrPluginInstantiation    = errspkg.ErrPluginInstantiation
	ErrInvalidStateRequest    = errspkg.ErrInvalidStateRequest
	ErrSidecarRequired        = errspkg.ErrSidecarRequired
	ErrHandlerRequired        = errspkg.ErrHandlerRequired
	ErrFunctionConfigRequired = errspkg.ErrFunctionConfigRequired
	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrUnknownRuntime         = errspkg.ErrUnknownRuntime

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONServiceLogger = loggingpkg.NewJSONServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

const (
	RuntimeKnative = configpkg.RuntimeKnative
	RuntimeAsync   = configpkg.RuntimeAsync

	SidecarModeDapr   = configpkg.SidecarModeDapr
	SidecarModeBroker = configpkg.SidecarModeBroker
	SidecarModeNone   = configpkg.SidecarModeNone

	StatusFulfilled = functionpkg.StatusFulfilled
	StatusRejected  = functionpkg.StatusRejected

	PhasePreHooks  = runtimepkg.PhasePreHooks
	PhaseHandler   = runtimepkg.PhaseHandler
	PhasePostHooks = runtimepkg.PhasePostHooks

	// MetadataKeyCorrelationID carries the correlation ID of async messages.
	MetadataKeyCorrelationID = runtimepkg.MetadataKeyCorrelationID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone     = runtimepkg.ErrorCategoryNone
	ErrorCategoryPreHook  = runtimepkg.ErrorCategoryPreHook
	ErrorCategoryHandler  = runtimepkg.ErrorCategoryHandler
	ErrorCategoryPostHook = runtimepkg.ErrorCategoryPostHook
	ErrorCategoryTimeout  = runtimepkg.ErrorCategoryTimeout
)
