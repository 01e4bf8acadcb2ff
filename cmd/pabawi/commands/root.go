package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	logLevel   string
	logFormat  string

	traceExporter string
	otlpEndpoint  string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pabawi",
		Short: "Pabawi - host configuration for the Pabawi web application",
		Long: `Pabawi converges one host into a running Pabawi installation.

A single configuration document selects a reverse proxy, an installer and
any number of integrations. The configuration is validated, expanded into
an ordered catalog of resources and applied one resource at a time.

Features:
  - YAML, JSON, CUE and Starlark configuration
  - Deterministic ordering: proxy, then installer, then integrations
  - Idempotent appliers for packages, files, services, containers and more
  - Local or SSH targets
  - Rego policies over the compiled catalog
  - SQLite run history`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pabawi.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "",
		"trace exporter (none, stdout, otlp); defaults to otlp when an endpoint is set")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		"OTLP gRPC collector endpoint")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newComponentsCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version":    version,
					"commit":     commit,
					"build_date": buildDate,
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), keyValues("",
				kv("version", version),
				kv("commit", commit),
				kv("built", buildDate),
			))
			return nil
		},
	}
}
