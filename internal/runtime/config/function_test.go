package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
)

const functionContextJSON = `{
  "name": "order-handler",
  "version": "v2",
  "runtime": "Async",
  "inputs": {
    "cron": {"componentName": "cron-input", "componentType": "bindings.cron"}
  },
  "outputs": {
    "audit": {"componentName": "audit-topic", "componentType": "pubsub.kafka", "uri": "audit"},
    "mail": {"componentName": "mailer", "componentType": "bindings.smtp", "operation": "create", "metadata": {"to": "ops@example.com"}}
  },
  "states": {
    "orders": {"componentName": "orders-store", "componentType": "state.redis"}
  },
  "prePlugins": ["auth", "tracing"],
  "postPlugins": ["tracing", "audit"],
  "pluginsTracing": {
    "enabled": true,
    "provider": {"name": "OpenTelemetry", "oapServer": "collector:4317"},
    "tags": {"func": "order-handler"}
  }
}`

func TestParseFunction(t *testing.T) {
	fn, err := ParseFunction([]byte(functionContextJSON))
	require.NoError(t, err)

	assert.Equal(t, "order-handler", fn.Name)
	assert.True(t, fn.IsAsyncRuntime())
	assert.False(t, fn.IsKnativeRuntime())
	assert.Equal(t, "create", fn.Outputs["mail"].Operation)
	assert.Equal(t, "ops@example.com", fn.Outputs["mail"].Metadata.Get("to"))
	assert.Equal(t, "opentelemetry", fn.PluginsTracing.ProviderName())
	assert.Equal(t, []string{"auth", "tracing", "audit"}, fn.PluginNames())
	assert.True(t, fn.HasPlugins())
}

func TestLoadFunctionFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "function.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: greeter
runtime: knative
port: "9000"
outputs:
  events:
    componentName: events
    componentType: pubsub.nats
    uri: greetings
`), 0o600))

	fn, err := LoadFunctionFile(path)
	require.NoError(t, err)
	assert.True(t, fn.IsKnativeRuntime())
	assert.Equal(t, "9000", fn.ListenPort())
	assert.Equal(t, "greetings", fn.Outputs["events"].URI)
	assert.False(t, fn.HasPlugins())
}

func TestLoadFunctionFileAcceptsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "function.json")
	require.NoError(t, os.WriteFile(path, []byte(functionContextJSON), 0o600))

	fn, err := LoadFunctionFile(path)
	require.NoError(t, err)
	assert.Len(t, fn.Outputs, 2)
}

func TestFunctionValidate(t *testing.T) {
	_, err := ParseFunction([]byte(`{"runtime":"lambda","port":"http","outputs":{"x":{"componentType":"bindings.http"}}}`))
	require.Error(t, err)

	var verr errspkg.ConfigValidationError
	require.ErrorAs(t, err, &verr)
	msg := err.Error()
	assert.Contains(t, msg, "Function.Name")
	assert.Contains(t, msg, "runtime_kind")
	assert.Contains(t, msg, "Function.Port")
	assert.Contains(t, msg, "ComponentName")

	assert.ErrorIs(t, (*Function)(nil).Validate(), errspkg.ErrFunctionConfigRequired)
}

func TestUnknownComponentCategoryIsAccepted(t *testing.T) {
	_, err := ParseFunction([]byte(`{"name":"f","runtime":"knative","outputs":{"x":{"componentName":"x","componentType":"secretstores.vault"}}}`))
	assert.NoError(t, err)
}

func TestFunctionFromEnv(t *testing.T) {
	t.Setenv(FunctionContextEnv, "")
	_, err := FunctionFromEnv()
	assert.ErrorIs(t, err, errspkg.ErrFunctionConfigRequired)

	t.Setenv(FunctionContextEnv, `{"name":"env-fn","runtime":"knative"}`)
	fn, err := FunctionFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-fn", fn.Name)
	assert.Equal(t, DefaultKnativePort, fn.ListenPort())
}
