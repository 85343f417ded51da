package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/funcflow/internal/runtime"
	"github.com/drblury/funcflow/internal/runtime/config"
	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
	"github.com/drblury/funcflow/internal/runtime/logging"
)

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"source":       "source",
	"target":       "target",
	"pubsub":       "pubsub_system",
	"sidecar-mode": "sidecar_mode",
	"log-level":    "log_level",
	"metrics":      "metrics_enabled",
}

// serve is replaced in tests.
var serve = func(ctx context.Context, conf *config.Config, fn *config.Function, log logging.ServiceLogger) error {
	svc, err := runtime.NewService(ctx, conf, log, runtime.ServiceDependencies{Function: fn})
	if err != nil {
		return err
	}
	runErr := svc.Start(ctx)
	if err := svc.Close(); err != nil {
		log.Error("Failed to close service", err, nil)
	}
	return runErr
}

func newRootCommand(version string) *cobra.Command {
	defaults, _ := config.New()

	root := &cobra.Command{
		Use:           "funcflow",
		Short:         "Run a function on an event-driven runtime",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: runServe,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a runtime config file (yaml, json or toml)")
	flags.String("function-file", "", "path to the function context; defaults to $FUNC_CONTEXT")
	flags.String("source", defaults.Source, "directory or file holding the function module")
	flags.String("target", defaults.Target, "exported function to invoke")
	flags.String("pubsub", defaults.PubSubSystem, "transport feeding async functions")
	flags.String("sidecar-mode", defaults.SidecarMode, "sidecar client: dapr, broker or none")
	flags.String("log-level", defaults.LogLevel, "log level: debug, info, warn or error")
	flags.Bool("metrics", defaults.MetricsEnabled, "expose Prometheus metrics")

	root.AddCommand(newServeCommand(), newValidateCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the function until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	conf, fn, err := load(cmd)
	if err != nil {
		return err
	}
	log := logging.NewJSONServiceLogger(cmd.ErrOrStderr(), conf.LogLevel)
	return serve(cmd.Context(), conf, fn, log)
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the runtime config and function context and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, fn, err := load(cmd)
			if err != nil {
				return err
			}
			out, err := jsoncodec.MarshalIndent(fn, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "runtime: %s\nfunction: %s\n", conf, out)
			return err
		},
	}
}

func load(cmd *cobra.Command) (*config.Config, *config.Function, error) {
	conf, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	fn, err := loadFunction(cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("load function context: %w", err)
	}
	return conf, fn, nil
}
