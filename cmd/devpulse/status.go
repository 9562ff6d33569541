package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/devpulse"
	"github.com/jpalmerr/devpulse/source"
)

const defaultStatusTimeout = 45 * time.Second

// statusCmd refreshes every source once and prints the result.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Refresh every source once and print a summary",
	Long: `Refresh every source once, wait for the fetches to finish, and print one
line per source.

Sources that fail show their error; sources that are not configured say what
is missing. The control API is never started by this command.

Example:
  devpulse status -c devpulse.yaml
  devpulse status -c devpulse.yaml --timeout 10s`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	statusCmd.Flags().Duration("timeout", defaultStatusTimeout, "maximum time to wait for every source")
	_ = statusCmd.MarkFlagRequired("config")
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger, err := loggerFromFlags(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	agent, _, err := newAgent(configFile, logger, false)
	if err != nil {
		return err
	}
	defer agent.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := agent.RefreshAndWait(ctx); err != nil {
		logger.Warn("some sources did not finish", "timeout", timeout.String(), "error", err)
	}

	printStatuses(cmd.OutOrStdout(), agent.Statuses(), time.Now())
	return nil
}

// conditionColor maps a snapshot condition to its display color.
func conditionColor(c source.Condition) *color.Color {
	switch c {
	case source.ConditionOK:
		return color.New(color.FgGreen)
	case source.ConditionStale:
		return color.New(color.FgYellow)
	case source.ConditionFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.Faint)
	}
}

// printStatuses writes one colored row per source.
func printStatuses(w io.Writer, statuses []devpulse.SourceStatus, now time.Time) {
	header := color.New(color.Bold)
	header.Fprintf(w, "%-16s %-14s %-12s %s\n", "SOURCE", "CONDITION", "UPDATED", "SUMMARY")

	name := color.New(color.FgCyan, color.Bold)
	for _, st := range statuses {
		name.Fprintf(w, "%-16s ", st.Source)
		conditionColor(st.Condition).Fprintf(w, "%-14s ", st.Condition)
		fmt.Fprintf(w, "%-12s %s\n", age(st.LastSuccessAt, now), summarize(st.Snapshot))
	}
}
