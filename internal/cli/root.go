// Package cli provides the command-line interface for supportflow.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantumflow/supportflow/internal/config"
	"github.com/quantumflow/supportflow/internal/telemetry"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	verbose    bool

	// Set up by PersistentPreRunE
	cfg       config.Config
	logger    *slog.Logger
	deps      *app
	shutdowns []func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "supportflow",
	Short: "Slack support triage assistant",
	Long: `Supportflow triages customer messages arriving in Slack.

Each message is classified, answered from the knowledge base when the
answer is well grounded, and escalated to a human team otherwise.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}

		var closeLog func() error
		logger, closeLog = config.SetupLogger(cfg.Log.File, cfg.Log.SlogLevel())
		slog.SetDefault(logger)
		shutdowns = append(shutdowns, closeLog)

		shutdownTelemetry, err := telemetry.Init(cmd.Context(), cfg.Telemetry.Endpoint,
			cfg.Telemetry.ServiceName, Version, cfg.Telemetry.Insecure)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		shutdowns = append(shutdowns, func() error {
			return shutdownTelemetry(context.Background())
		})

		deps = newApp(cfg, logger)
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
// Resources opened by the command are released even when it fails.
func Execute(ctx context.Context) error {
	defer cleanup()
	return rootCmd.ExecuteContext(ctx)
}

func cleanup() {
	if deps != nil {
		if err := deps.close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		deps = nil
	}
	for i := len(shutdowns) - 1; i >= 0; i-- {
		if err := shutdowns[i](); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	shutdowns = nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "supportflow.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(casesCmd)
}
