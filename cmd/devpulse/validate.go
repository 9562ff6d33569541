package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/devpulse/config"
	"github.com/jpalmerr/devpulse/source"
)

// validateCmd validates a config file without polling anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a devpulse configuration file without polling anything.

This command parses the YAML, expands environment variables, validates all
fields and builds every source. It's useful before committing a dotfile.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  devpulse validate -c devpulse.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := config.BuildOptions(cfg, version, nil); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	base := cfg.BaseInterval.Duration()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Base interval: %s\n", base)
	if cfg.Port > 0 {
		fmt.Fprintf(out, "  Control API:   port %d\n", cfg.Port)
	} else {
		fmt.Fprintf(out, "  Control API:   disabled\n")
	}
	fmt.Fprintf(out, "  Sources:\n")
	for _, src := range source.All() {
		fmt.Fprintf(out, "    %-16s every %-8s %s\n", src, src.Interval(base), describeSource(cfg, src))
	}
	return nil
}

// describeSource says how src is configured, or that it is not.
func describeSource(cfg *config.Config, src source.Source) string {
	switch src {
	case source.PullRequests:
		if cfg.GitHub.Token == "" {
			return "not configured (no github token)"
		}
		queries := len(cfg.GitHub.Queries)
		if queries == 0 {
			queries = 2
		}
		return fmt.Sprintf("%d queries", queries)
	case source.Tools:
		if len(cfg.Tools.Checks) == 0 {
			return "not configured (no checks)"
		}
		names := make([]string, 0, len(cfg.Tools.Checks))
		for _, c := range cfg.Tools.Checks {
			names = append(names, c.Name)
		}
		return strings.Join(names, ", ")
	case source.ClusterContext:
		file := cfg.Cluster.ContextFile
		if file == "" {
			file = "~/.kube/config"
		}
		return "context file " + file
	case source.Version:
		switch {
		case cfg.Version.GitHubRepo != "":
			return "github releases of " + cfg.Version.GitHubRepo
		case cfg.Version.OCIRepo != "":
			return "registry tags of " + cfg.Version.OCIRepo
		}
		return "not configured (no release source)"
	}
	return ""
}
