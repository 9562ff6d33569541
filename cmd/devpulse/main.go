// Package main is the entry point for the devpulse CLI.
//
// devpulse can be embedded as a library or run as a standalone binary with
// YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	devpulse run -c config.yaml      # Poll in the background, serve the control API
//	devpulse status -c config.yaml   # Refresh once and print a table
//	devpulse watch -c config.yaml    # Live terminal view
//	devpulse validate -c config.yaml # Validate configuration
//	devpulse version                 # Show version info
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "0.0.0-dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "devpulse",
	Short: "Background poller for developer environment status",
	Long: `devpulse keeps an eye on the things a developer checks all day.

It polls four sources on a shared base interval:
  - open pull requests awaiting review or authored by you (every 5 intervals)
  - local tool availability (every interval)
  - the current and stable kube cluster context (every 3 intervals)
  - whether a newer devpulse release exists (every 30 intervals)

Quick start:
  1. Create a config file (devpulse.yaml)
  2. Run: devpulse status -c devpulse.yaml

Example config:
  base_interval: 60s
  github:
    token: ${GITHUB_TOKEN}
  tools:
    checks:
      - name: git
        command: git --version`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this devpulse binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "devpulse %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// loggerFromFlags builds the logger selected by --log-level.
func loggerFromFlags(cmd *cobra.Command) (*slog.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	return newLogger(cmd.ErrOrStderr(), level)
}
