package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/devpulse"
	"github.com/jpalmerr/devpulse/config"
)

// runCmd polls in the foreground until interrupted.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll every source until interrupted",
	Long: `Start the devpulse agent.

The agent will:
  - Load configuration from the specified YAML file
  - Refresh every source at once, then poll each on its own interval
  - Serve the HTTP control API when a port is configured
  - Refresh the cluster context as soon as the context file changes

The agent runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  devpulse run -c devpulse.yaml
  devpulse run --config ~/.config/devpulse/config.yaml --log-level debug`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = runCmd.MarkFlagRequired("config")
}

// newAgent loads the config file and builds an agent from it.
// withServer false disables the control API regardless of the config.
func newAgent(configFile string, logger *slog.Logger, withServer bool) (*devpulse.Agent, *config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !withServer {
		cfg.Port = 0
	}

	opts, err := config.BuildOptions(cfg, version, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build sources: %w", err)
	}

	agent, err := devpulse.New(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return agent, cfg, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := loggerFromFlags(cmd)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	agent, cfg, err := newAgent(configFile, logger, true)
	if err != nil {
		return err
	}

	logger.Info("config loaded",
		"base_interval", cfg.BaseInterval.Duration().String(),
		"port", cfg.Port,
		"tool_checks", len(cfg.Tools.Checks),
	)

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil {
		_ = agent.Close()
		return fmt.Errorf("agent error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
