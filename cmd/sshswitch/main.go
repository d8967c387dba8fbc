// sshswitch - on/off switch for a remote machine driven over SSH
//
// The serve command runs the long-lived bridge: it polls the device on a
// schedule, accepts commands over MQTT and the HTTP API, and records every
// state change. The on, off and status commands run one action against the
// device and exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar overrides the default configuration path when --config is not given.
const configEnvVar = "SSHSWITCH_CONFIG"

// Global flags
var (
	configPath string
	verbose    bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps tests
// independent of each other's flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sshswitch",
		Short: "Control a remote machine's on/off state over SSH",
		Long: `sshswitch drives a single device through three shell commands run
over an authenticated SSH session: one to turn it on, one to turn it off,
and one to read its status.

Run "sshswitch serve" for the long-lived bridge (MQTT, HTTP API, history),
or "sshswitch on|off|status" for a one-shot action.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("configuration file (default $%s or %s)", configEnvVar, defaultConfigPath))
	root.PersistentFlags().BoolVar(&verbose, "verbose", false,
		"log to stderr during one-shot commands")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSwitchCmd(actionOn))
	root.AddCommand(newSwitchCmd(actionOff))
	root.AddCommand(newSwitchCmd(actionStatus))
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sshswitch %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// getConfigPath returns the configuration file path.
// Precedence: --config flag, SSHSWITCH_CONFIG, then the default.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}
