package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jpalmerr/devpulse"
	"github.com/jpalmerr/devpulse/internal/cluster"
	"github.com/jpalmerr/devpulse/internal/github"
	"github.com/jpalmerr/devpulse/internal/httpclient"
	"github.com/jpalmerr/devpulse/internal/tools"
	"github.com/jpalmerr/devpulse/internal/version"
	"github.com/jpalmerr/devpulse/source"
)

// BuildOptions converts parsed configuration into agent options with concrete
// fetchers for every source.
//
// runningVersion is the binary's own version, compared against the latest
// release unless the config overrides it. A nil logger uses [slog.Default].
// Sources left unconfigured still get a fetcher where one can explain what is
// missing; the version source is omitted entirely without a release source.
func BuildOptions(cfg *Config, runningVersion string, logger *slog.Logger) ([]devpulse.Option, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []devpulse.Option{
		devpulse.WithLogger(logger),
		devpulse.WithTitle(cfg.Title),
		devpulse.WithBaseInterval(cfg.BaseInterval.Duration()),
	}
	if cfg.Port > 0 {
		opts = append(opts, devpulse.WithServer(cfg.Port))
	}
	if cfg.StatePath != "" {
		opts = append(opts, devpulse.WithStatePath(cfg.StatePath))
	}

	// one rate-limited transport for every GitHub call
	client := httpclient.New(httpclient.WithRateLimit(cfg.GitHub.RateLimit, 1))
	ghCfg := buildGitHubConfig(cfg.GitHub, client)

	prs, err := github.NewPullRequestFetcher(ghCfg)
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	opts = append(opts, sourceOptions(source.PullRequests, prs, cfg.GitHub.SourceSettings)...)

	checker := tools.NewChecker(buildToolsConfig(cfg.Tools, logger))
	opts = append(opts, sourceOptions(source.Tools, checker, cfg.Tools.SourceSettings)...)

	clusters := cluster.NewFetcher(buildClusterConfig(cfg.Cluster))
	opts = append(opts, sourceOptions(source.ClusterContext, clusters, cfg.Cluster.SourceSettings)...)
	if cfg.Cluster.WatchEnabled() {
		dir := filepath.Dir(clusters.ContextFile())
		if _, err := os.Stat(dir); err == nil {
			opts = append(opts, devpulse.WithContextWatch(clusters.ContextFile()))
		} else {
			logger.Debug("context file directory missing, not watching", "path", dir)
		}
	}

	releases, err := buildReleaseSource(cfg.Version, ghCfg)
	if err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	if releases != nil {
		current := cfg.Version.Current
		if current == "" {
			current = runningVersion
		}
		checker, err := version.NewChecker(current, releases)
		if err != nil {
			return nil, fmt.Errorf("version: %w", err)
		}
		opts = append(opts, sourceOptions(source.Version, checker, cfg.Version.SourceSettings)...)
	}

	return opts, nil
}

// sourceOptions wires f and its shared settings for src.
func sourceOptions(src source.Source, f source.Fetcher, s SourceSettings) []devpulse.Option {
	opts := []devpulse.Option{
		devpulse.WithFetcher(src, f),
		devpulse.WithFailurePolicy(src, s.Policy()),
	}
	if s.Timeout > 0 {
		opts = append(opts, devpulse.WithTimeout(src, s.Timeout.Duration()))
	}
	return opts
}

func buildGitHubConfig(gc GitHubConfig, client *httpclient.Client) github.Config {
	cfg := github.Config{
		Token:      gc.Token,
		BaseURL:    gc.BaseURL,
		PerPage:    gc.PerPage,
		HTTPClient: client.HTTPClient(),
	}
	for _, q := range gc.Queries {
		cfg.Queries = append(cfg.Queries, github.Query{
			Role:  source.PullRequestRole(q.Role),
			Query: q.Query,
		})
	}
	return cfg
}

func buildToolsConfig(tc ToolsConfig, logger *slog.Logger) tools.Config {
	checks := make([]tools.Check, 0, len(tc.Checks))
	for _, c := range tc.Checks {
		checks = append(checks, tools.Check{Name: c.Name, Command: c.Command})
	}
	return tools.Config{
		Checks:      checks,
		Timeout:     tc.CheckTimeout.Duration(),
		Concurrency: tc.Concurrency,
		Logger:      logger,
	}
}

func buildClusterConfig(cc ClusterConfig) cluster.Config {
	var sel cluster.Selector
	if cc.Stable != "" {
		sel = cluster.NameSelector(cc.Stable)
	} else {
		sel = cluster.MarkerSelector{Markers: cc.Markers, FallbackToFirst: cc.FallbackToFirst}
	}
	return cluster.Config{
		ContextFile: cc.ContextFile,
		ListCommand: cc.ListCommand,
		Selector:    sel,
	}
}

// buildReleaseSource returns nil when no release source is configured.
func buildReleaseSource(vc VersionConfig, ghCfg github.Config) (version.ReleaseSource, error) {
	switch {
	case vc.GitHubRepo != "":
		return github.NewReleaseSource(ghCfg, vc.GitHubRepo)
	case vc.OCIRepo != "":
		var opts []version.OCIOption
		if vc.Insecure {
			opts = append(opts, version.WithInsecure())
		}
		if vc.Prereleases {
			opts = append(opts, version.WithPrereleases())
		}
		return version.NewOCISource(vc.OCIRepo, opts...)
	default:
		return nil, nil
	}
}
