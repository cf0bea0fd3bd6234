// cmd/profilectl/main.go
// Package main implements the profilectl command, a terminal client for the
// profile sync core. It wires the document store, object storage, realtime
// feed and session identity from the environment and drives the screens.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/RegistryAccord/registryaccord-profile-go/internal/config"
	"github.com/RegistryAccord/registryaccord-profile-go/internal/telemetry"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	traceOutput bool // export spans to stderr
	current     *app // wired by the root pre-run hook
)

var rootCmd = &cobra.Command{
	Use:           "profilectl",
	Short:         "Edit your profile and manage liked images",
	Long:          "profilectl edits the signed-in user's profile, uploads avatars and keeps favorite flags in sync with the remote profile store.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd || cmd == settingsCmd || cmd == settingsOpenCmd {
			return nil
		}
		return setup(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "profilectl %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&traceOutput, "trace", false, "print trace spans to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(favoritesCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(serveCmd)
}

// setup loads configuration, configures logging and tracing, and wires the app.
func setup(ctx context.Context) error {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	// Structured logs go to stderr so command output stays clean
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var traceWriter io.Writer = io.Discard
	if traceOutput {
		traceWriter = os.Stderr
	}
	if _, err := telemetry.InitTracer(telemetry.ServiceName, traceWriter); err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracer: %w", err)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	current = a
	return nil
}

// teardown releases the app and flushes remaining spans.
func teardown() {
	if current != nil {
		current.close()
		current = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	telemetry.ShutdownTracer(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		teardown()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
