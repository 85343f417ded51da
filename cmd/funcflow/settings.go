package main

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/drblury/funcflow/internal/runtime/config"
)

const envPrefix = "FUNCFLOW"

// envAliases are the variable names set by function platforms. They take
// precedence over the FUNCFLOW_ prefixed names.
var envAliases = map[string][]string{
	"source":         {"FUNC_SOURCE"},
	"target":         {"FUNC_TARGET"},
	"dapr_host":      {"DAPR_HOST"},
	"dapr_http_port": {"DAPR_HTTP_PORT"},
	"dapr_grpc_port": {"DAPR_GRPC_PORT"},
}

// settingKeys lists the mapstructure keys of config.Config.
func settingKeys() []string {
	t := reflect.TypeOf(config.Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("mapstructure"); key != "" && key != "-" {
			keys = append(keys, key)
		}
	}
	return keys
}

func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	for _, key := range settingKeys() {
		names := append([]string{key}, envAliases[key]...)
		names = append(names, envPrefix+"_"+strings.ToUpper(key))
		if err := v.BindEnv(names...); err != nil {
			return nil, err
		}
	}

	for flagName, key := range flagKeys {
		if f := flags.Lookup(flagName); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// loadConfig merges defaults, an optional config file, the environment and
// flags, in increasing order of precedence.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	conf, err := config.New()
	if err != nil {
		return nil, err
	}

	v, err := newViper(flags)
	if err != nil {
		return nil, err
	}
	if path, _ := flags.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// loadFunction reads the function context from --function-file when given,
// otherwise from FUNC_CONTEXT.
func loadFunction(flags *pflag.FlagSet) (*config.Function, error) {
	if path, _ := flags.GetString("function-file"); path != "" {
		return config.LoadFunctionFile(path)
	}
	return config.FunctionFromEnv()
}
