package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
	"github.com/drblury/funcflow/internal/runtime/metadata"
)

// FunctionContextEnv carries the JSON function context document.
const FunctionContextEnv = "FUNC_CONTEXT"

// DefaultKnativePort is used when a knative function declares no port.
const DefaultKnativePort = "8080"

// RuntimeKind is the declared execution runtime of a function.
type RuntimeKind string

const (
	RuntimeKnative RuntimeKind = "knative"
	RuntimeAsync   RuntimeKind = "async"
)

// Component describes one external resource bound to the function.
type Component struct {
	ComponentName string            `json:"componentName" yaml:"componentName" validate:"required"`
	ComponentType string            `json:"componentType" yaml:"componentType" validate:"required"`
	URI           string            `json:"uri,omitempty" yaml:"uri,omitempty"`
	Operation     string            `json:"operation,omitempty" yaml:"operation,omitempty"`
	Metadata      metadata.Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// TraceProvider names the tracing backend and its collector address.
type TraceProvider struct {
	Name      string `json:"name" yaml:"name"`
	OapServer string `json:"oapServer,omitempty" yaml:"oapServer,omitempty"`
}

// TraceConfig configures the built-in tracing plugin.
type TraceConfig struct {
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Provider *TraceProvider    `json:"provider,omitempty" yaml:"provider,omitempty"`
	Tags     map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Baggage  map[string]string `json:"baggage,omitempty" yaml:"baggage,omitempty"`
}

// ProviderName returns the lower-cased provider name, or "" when unset.
func (t *TraceConfig) ProviderName() string {
	if t == nil || t.Provider == nil {
		return ""
	}
	return strings.ToLower(t.Provider.Name)
}

// Function is the declarative description of a deployed function. It is
// treated as immutable once loaded; runtime contexts read it through accessors.
type Function struct {
	Name           string                `json:"name" yaml:"name" validate:"required"`
	Version        string                `json:"version,omitempty" yaml:"version,omitempty"`
	Runtime        RuntimeKind           `json:"runtime" yaml:"runtime" validate:"required,runtime_kind"`
	Port           string                `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,numeric"`
	Inputs         map[string]*Component `json:"inputs,omitempty" yaml:"inputs,omitempty" validate:"omitempty,dive,required"`
	Outputs        map[string]*Component `json:"outputs,omitempty" yaml:"outputs,omitempty" validate:"omitempty,dive,required"`
	States         map[string]*Component `json:"states,omitempty" yaml:"states,omitempty" validate:"omitempty,dive,required"`
	PrePlugins     []string              `json:"prePlugins,omitempty" yaml:"prePlugins,omitempty"`
	PostPlugins    []string              `json:"postPlugins,omitempty" yaml:"postPlugins,omitempty"`
	PluginsTracing *TraceConfig          `json:"pluginsTracing,omitempty" yaml:"pluginsTracing,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("runtime_kind", func(fl validator.FieldLevel) bool {
		kind := RuntimeKind(fl.Field().String())
		return IsKnativeRuntime(kind) || IsAsyncRuntime(kind)
	})
}

// ParseFunction decodes a JSON function context document.
func ParseFunction(data []byte) (*Function, error) {
	fn := &Function{}
	if err := jsoncodec.Unmarshal(data, fn); err != nil {
		return nil, fmt.Errorf("config: decode function context: %w", err)
	}
	if err := fn.Validate(); err != nil {
		return nil, err
	}
	return fn, nil
}

// LoadFunctionFile reads a YAML (or JSON) function context from disk.
func LoadFunctionFile(path string) (*Function, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read function context: %w", err)
	}
	fn := &Function{}
	if err := yaml.Unmarshal(raw, fn); err != nil {
		return nil, fmt.Errorf("config: decode function context %s: %w", path, err)
	}
	if err := fn.Validate(); err != nil {
		return nil, err
	}
	return fn, nil
}

// FunctionFromEnv loads the function context from FUNC_CONTEXT.
func FunctionFromEnv() (*Function, error) {
	raw, ok := os.LookupEnv(FunctionContextEnv)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errspkg.ErrFunctionConfigRequired
	}
	return ParseFunction([]byte(raw))
}

// Validate reports every structural problem at once. Component types outside
// the known categories are accepted; they are simply inert.
func (f *Function) Validate() error {
	if f == nil {
		return errspkg.ErrFunctionConfigRequired
	}
	err := validate.Struct(f)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errspkg.ConfigValidationError{Err: err}
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q validation", fe.Namespace(), fe.Tag()))
	}
	return errspkg.ConfigValidationError{Err: errors.Join(errs...)}
}

// ListenPort is the HTTP port of a knative function.
func (f *Function) ListenPort() string {
	if f.Port == "" {
		return DefaultKnativePort
	}
	return f.Port
}

// HasPlugins reports whether any pre or post plugin is declared.
func (f *Function) HasPlugins() bool {
	return len(f.PrePlugins) > 0 || len(f.PostPlugins) > 0
}

// PluginNames returns the distinct declared plugin names, pre-plugins first.
func (f *Function) PluginNames() []string {
	seen := make(map[string]struct{}, len(f.PrePlugins)+len(f.PostPlugins))
	names := make([]string, 0, len(f.PrePlugins)+len(f.PostPlugins))
	for _, list := range [][]string{f.PrePlugins, f.PostPlugins} {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}
