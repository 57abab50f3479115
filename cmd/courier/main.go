// Courier - MQTT session daemon
//
// Courier keeps a durable MQTT session open to one broker. It:
//   - Reconnects with backoff and follows host network changes
//   - Persists in-flight QoS 1/2 flows so they survive restarts
//   - Exposes session status and an event stream over HTTP
//   - Optionally writes session telemetry to InfluxDB
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the daemon.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "courier",
		Short:         "Durable MQTT session daemon",
		Version:       fmt.Sprintf("%s (%s, %s) %s/%s", version, commit, date, runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", getConfigPath(),
		"path to a .yaml or .toml config file (env COURIER_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the daemon (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), configPath)
			},
		},
		newPublishCmd(&configPath),
		newFlowsCmd(&configPath),
		newDBCmd(&configPath),
		newTokenCmd(&configPath),
	)

	return root
}

// getConfigPath returns the configuration file path.
// Uses COURIER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("COURIER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
