package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/logging"
)

const functionContext = `{"name":"orders","runtime":"knative","port":"8085"}`

type served struct {
	conf *config.Config
	fn   *config.Function
}

func stubServe(t *testing.T) *served {
	t.Helper()
	orig := serve
	t.Cleanup(func() { serve = orig })

	got := &served{}
	serve = func(_ context.Context, conf *config.Config, fn *config.Function, _ logging.ServiceLogger) error {
		got.conf, got.fn = conf, fn
		return nil
	}
	return got
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServeMergesEnvironmentAndFlags(t *testing.T) {
	got := stubServe(t)
	t.Setenv(config.FunctionContextEnv, functionContext)
	t.Setenv("FUNC_TARGET", "handleOrder")
	t.Setenv("FUNC_SOURCE", "/from/env")
	t.Setenv("DAPR_HTTP_PORT", "3600")
	t.Setenv("FUNCFLOW_PUBSUB_SYSTEM", "kafka")
	t.Setenv("FUNCFLOW_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("FUNCFLOW_SIDECAR_TIMEOUT", "5s")

	_, err := execute(t, "serve", "--source", "/from/flag")
	require.NoError(t, err)

	require.NotNil(t, got.conf)
	assert.Equal(t, "handleOrder", got.conf.Target)
	assert.Equal(t, "/from/flag", got.conf.Source)
	assert.Equal(t, "kafka", got.conf.PubSubSystem)
	assert.Equal(t, []string{"a:9092", "b:9092"}, got.conf.KafkaBrokers)
	assert.Equal(t, 3600, got.conf.SidecarHTTPPort)
	assert.Equal(t, 5*time.Second, got.conf.SidecarTimeout)
	assert.Equal(t, "funcflow", got.conf.KafkaClientID)
	assert.Equal(t, "orders", got.fn.Name)
}

func TestRootCommandServes(t *testing.T) {
	got := stubServe(t)
	t.Setenv(config.FunctionContextEnv, functionContext)

	_, err := execute(t, "--sidecar-mode", "none")
	require.NoError(t, err)
	assert.Equal(t, config.SidecarModeNone, got.conf.SidecarMode)
	assert.Equal(t, "channel", got.conf.PubSubSystem)
}

func TestConfigFileAndFunctionFile(t *testing.T) {
	got := stubServe(t)
	dir := t.TempDir()

	confPath := filepath.Join(dir, "runtime.yaml")
	require.NoError(t, os.WriteFile(confPath, []byte("pubsub_system: nats\nnats_url: nats://nats:4222\nmetrics_enabled: true\n"), 0o600))
	fnPath := filepath.Join(dir, "function.yaml")
	require.NoError(t, os.WriteFile(fnPath, []byte("name: thumbnails\nruntime: async\n"), 0o600))

	_, err := execute(t, "serve", "--config", confPath, "--function-file", fnPath)
	require.NoError(t, err)
	assert.Equal(t, "nats", got.conf.PubSubSystem)
	assert.Equal(t, "nats://nats:4222", got.conf.NATSURL)
	assert.True(t, got.conf.MetricsEnabled)
	assert.Equal(t, "thumbnails", got.fn.Name)
	assert.True(t, got.fn.IsAsyncRuntime())
}

func TestServeErrors(t *testing.T) {
	stubServe(t)

	t.Run("missing function context", func(t *testing.T) {
		t.Setenv(config.FunctionContextEnv, "")
		_, err := execute(t, "serve")
		require.ErrorIs(t, err, errspkg.ErrFunctionConfigRequired)
	})

	t.Run("invalid runtime config", func(t *testing.T) {
		t.Setenv(config.FunctionContextEnv, functionContext)
		_, err := execute(t, "serve", "--pubsub", "rabbitmq")
		require.ErrorContains(t, err, "rabbitmq: URL is required")
	})

	t.Run("missing config file", func(t *testing.T) {
		t.Setenv(config.FunctionContextEnv, functionContext)
		_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
		require.ErrorContains(t, err, "read config file")
	})
}

func TestValidatePrintsRedactedConfig(t *testing.T) {
	t.Setenv(config.FunctionContextEnv, functionContext)
	t.Setenv("FUNCFLOW_AWS_SECRET_ACCESS_KEY", "topsecret")

	out, err := execute(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "orders"`)
	assert.Contains(t, out, "***REDACTED***")
	assert.NotContains(t, out, "topsecret")
}

func TestSettingKeysCoverConfig(t *testing.T) {
	keys := settingKeys()
	assert.Contains(t, keys, "pubsub_system")
	assert.Contains(t, keys, "dapr_http_port")
	assert.Contains(t, keys, "state_dsn")
	for _, key := range flagKeys {
		assert.Contains(t, keys, key)
	}
}
