// Package config provides YAML configuration parsing for devpulse.
//
// It lets the devpulse binary run from a configuration file, as an
// alternative to wiring fetchers programmatically.
//
// Example configuration:
//
//	title: my desk
//	base_interval: 60s
//	port: 8080
//	state_path: ~/.local/state/devpulse/state.db
//
//	github:
//	  token: ${GITHUB_TOKEN}
//
//	tools:
//	  checks:
//	    - name: git
//	      command: git --version
//	    - name: kubectl
//	      command: kubectl version --client
//
//	cluster:
//	  context_file: ~/.kube/config
//	  list_command: kubectl config get-clusters --no-headers
//	  markers: [stable]
//
//	version:
//	  github_repo: jpalmerr/devpulse
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/devpulse/source"
)

const (
	// minBaseInterval keeps a typo from hammering the GitHub API.
	minBaseInterval = 1 * time.Second

	defaultBaseInterval = 60 * time.Second
	defaultCheckTimeout = 5 * time.Second
)

// Config is the root configuration structure for devpulse.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title names the agent in logs and the control API. Defaults to "devpulse".
	Title string `yaml:"title"`

	// BaseInterval is the root polling period. Per-source intervals are
	// derived from it. Defaults to 60s.
	BaseInterval Duration `yaml:"base_interval"`

	// Port serves the HTTP control API when non-zero.
	Port int `yaml:"port"`

	// StatePath persists last-success times when set. A leading "~/" is
	// expanded to the home directory.
	StatePath string `yaml:"state_path"`

	GitHub  GitHubConfig  `yaml:"github"`
	Tools   ToolsConfig   `yaml:"tools"`
	Cluster ClusterConfig `yaml:"cluster"`
	Version VersionConfig `yaml:"version"`
}

// SourceSettings are shared by every source section.
type SourceSettings struct {
	// Timeout bounds one whole fetch of the source.
	Timeout Duration `yaml:"timeout"`

	// FailurePolicy is "retain" (default) or "replace".
	FailurePolicy string `yaml:"failure_policy"`
}

// Policy returns the parsed failure policy. Call after validation.
func (s SourceSettings) Policy() source.FailurePolicy {
	if s.FailurePolicy == "replace" {
		return source.ReplaceOnFailure
	}
	return source.RetainStale
}

// GitHubConfig configures the pull request source and GitHub API access.
type GitHubConfig struct {
	SourceSettings `yaml:",inline"`

	// Token authenticates requests. Supports ${VAR} substitution; without it
	// the pull request source reports not configured.
	Token string `yaml:"token"`

	// BaseURL points at a GitHub Enterprise API.
	BaseURL string `yaml:"base_url"`

	// Queries overrides the default review-requested and authored searches.
	Queries []QueryConfig `yaml:"queries"`

	// PerPage caps results per query.
	PerPage int `yaml:"per_page"`

	// RateLimit caps API requests per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
}

// QueryConfig is one pull request search.
type QueryConfig struct {
	// Role is review_requested, authored, assigned or other.
	Role  string `yaml:"role"`
	Query string `yaml:"query"`
}

// ToolsConfig configures the tool availability source.
type ToolsConfig struct {
	SourceSettings `yaml:",inline"`

	// CheckTimeout bounds each check command. Defaults to 5s.
	CheckTimeout Duration `yaml:"check_timeout"`

	// Concurrency caps checks running at once.
	Concurrency int `yaml:"concurrency"`

	Checks []CheckConfig `yaml:"checks"`
}

// CheckConfig is one tool check. Exit code 0 means available.
type CheckConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

// ClusterConfig configures the cluster context source.
type ClusterConfig struct {
	SourceSettings `yaml:",inline"`

	// ContextFile is the kubeconfig path. Defaults to ~/.kube/config.
	ContextFile string `yaml:"context_file"`

	// ListCommand prints one cluster name per line. Empty lists the clusters
	// defined in the context file.
	ListCommand string `yaml:"list_command"`

	// Stable names the stable cluster exactly. Mutually exclusive with Markers.
	Stable string `yaml:"stable"`

	// Markers select the stable cluster by case-insensitive substring.
	Markers []string `yaml:"markers"`

	// FallbackToFirst picks the first cluster when no marker matches.
	FallbackToFirst bool `yaml:"fallback_to_first"`

	// Watch refreshes the source as soon as the context file changes.
	// Defaults to true.
	Watch *bool `yaml:"watch"`
}

// WatchEnabled reports whether the context file should be watched.
func (c ClusterConfig) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}

// VersionConfig configures the update check source.
type VersionConfig struct {
	SourceSettings `yaml:",inline"`

	// Current overrides the running version reported by the binary.
	Current string `yaml:"current"`

	// GitHubRepo ("owner/name") reads the latest GitHub release.
	GitHubRepo string `yaml:"github_repo"`

	// OCIRepo reads the highest semver tag from a registry repository.
	OCIRepo string `yaml:"oci_repo"`

	// Insecure allows plain HTTP registries.
	Insecure bool `yaml:"insecure"`

	// Prereleases includes pre-release tags from OCIRepo.
	Prereleases bool `yaml:"prereleases"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// expandPath expands environment variables and then "~" in a path field.
func expandPath(field, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	expanded, err := expandEnvVars(value)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	expanded, err = expandHome(expanded)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return expanded, nil
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in the token, commands and paths.
// Defaults are applied for BaseInterval (60s) and the per-check timeout (5s).
// An empty document is valid: every source then reports not configured.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.BaseInterval == 0 {
		cfg.BaseInterval = Duration(defaultBaseInterval)
	}
	if cfg.Tools.CheckTimeout == 0 {
		cfg.Tools.CheckTimeout = Duration(defaultCheckTimeout)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.BaseInterval.Duration() < minBaseInterval {
		return fmt.Errorf("base_interval must be at least %s, got %s", minBaseInterval, c.BaseInterval.Duration())
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}

	var err error
	if c.StatePath, err = expandPath("state_path", c.StatePath); err != nil {
		return err
	}

	if err := c.validateGitHub(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateCluster(); err != nil {
		return err
	}
	return c.validateVersion()
}

func validateSettings(section string, s SourceSettings) error {
	if s.Timeout < 0 {
		return fmt.Errorf("%s: timeout cannot be negative, got %s", section, s.Timeout.Duration())
	}
	if s.Timeout != 0 && s.Timeout.Duration() < time.Second {
		return fmt.Errorf("%s: timeout must be at least 1s if specified, got %s", section, s.Timeout.Duration())
	}
	switch s.FailurePolicy {
	case "", "retain", "replace":
	default:
		return fmt.Errorf("%s: failure_policy must be retain or replace, got %q", section, s.FailurePolicy)
	}
	return nil
}

func (c *Config) validateGitHub() error {
	g := &c.GitHub
	if err := validateSettings("github", g.SourceSettings); err != nil {
		return err
	}

	token, err := expandEnvVars(g.Token)
	if err != nil {
		return fmt.Errorf("github: token: %w", err)
	}
	g.Token = token

	if g.BaseURL, err = expandEnvVars(g.BaseURL); err != nil {
		return fmt.Errorf("github: base_url: %w", err)
	}
	if g.PerPage < 0 || g.PerPage > 100 {
		return fmt.Errorf("github: per_page must be between 1 and 100, got %d", g.PerPage)
	}
	if g.RateLimit < 0 {
		return fmt.Errorf("github: rate_limit cannot be negative, got %v", g.RateLimit)
	}

	for i, q := range g.Queries {
		if strings.TrimSpace(q.Query) == "" {
			return fmt.Errorf("github.queries[%d]: query is required", i)
		}
		switch source.PullRequestRole(q.Role) {
		case source.RoleReviewRequested, source.RoleAuthored, source.RoleAssigned, source.RoleOther:
		case "":
			g.Queries[i].Role = string(source.RoleOther)
		default:
			return fmt.Errorf("github.queries[%d]: unknown role %q", i, q.Role)
		}
	}
	return nil
}

func (c *Config) validateTools() error {
	t := &c.Tools
	if err := validateSettings("tools", t.SourceSettings); err != nil {
		return err
	}
	if t.CheckTimeout.Duration() <= 0 {
		return fmt.Errorf("tools: check_timeout must be positive, got %s", t.CheckTimeout.Duration())
	}
	if t.Concurrency < 0 {
		return fmt.Errorf("tools: concurrency cannot be negative, got %d", t.Concurrency)
	}

	seen := make(map[string]struct{}, len(t.Checks))
	for i := range t.Checks {
		chk := &t.Checks[i]
		if chk.Name == "" {
			return fmt.Errorf("tools.checks[%d]: name is required", i)
		}
		if _, dup := seen[chk.Name]; dup {
			return fmt.Errorf("tools.checks[%d] (%s): duplicate name", i, chk.Name)
		}
		seen[chk.Name] = struct{}{}

		if strings.TrimSpace(chk.Command) == "" {
			return fmt.Errorf("tools.checks[%d] (%s): command is required", i, chk.Name)
		}
		expanded, err := expandEnvVars(chk.Command)
		if err != nil {
			return fmt.Errorf("tools.checks[%d] (%s): command: %w", i, chk.Name, err)
		}
		chk.Command = expanded
	}
	return nil
}

func (c *Config) validateCluster() error {
	cl := &c.Cluster
	if err := validateSettings("cluster", cl.SourceSettings); err != nil {
		return err
	}

	var err error
	if cl.ContextFile, err = expandPath("cluster: context_file", cl.ContextFile); err != nil {
		return err
	}
	if cl.ListCommand, err = expandEnvVars(cl.ListCommand); err != nil {
		return fmt.Errorf("cluster: list_command: %w", err)
	}

	if cl.Stable != "" && len(cl.Markers) > 0 {
		return errors.New("cluster: stable and markers are mutually exclusive")
	}
	for i, m := range cl.Markers {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("cluster.markers[%d]: marker cannot be empty", i)
		}
	}
	return nil
}

func (c *Config) validateVersion() error {
	v := &c.Version
	if err := validateSettings("version", v.SourceSettings); err != nil {
		return err
	}
	if v.GitHubRepo != "" && v.OCIRepo != "" {
		return errors.New("version: github_repo and oci_repo are mutually exclusive")
	}
	if v.GitHubRepo != "" {
		owner, repo, ok := strings.Cut(v.GitHubRepo, "/")
		if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			return fmt.Errorf("version: github_repo must be owner/name, got %q", v.GitHubRepo)
		}
	}
	return nil
}
