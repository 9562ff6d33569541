package config

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/devpulse"
	"github.com/jpalmerr/devpulse/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildAgent parses yaml, builds options and creates an agent.
func buildAgent(t *testing.T, yaml, running string) *devpulse.Agent {
	t.Helper()

	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	opts, err := BuildOptions(cfg, running, testLogger())
	if err != nil {
		t.Fatalf("BuildOptions() error = %v", err)
	}
	agent, err := devpulse.New(opts...)
	if err != nil {
		t.Fatalf("devpulse.New() error = %v", err)
	}
	t.Cleanup(func() { agent.Close() })
	return agent
}

func refresh(t *testing.T, agent *devpulse.Agent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := agent.RefreshAndWait(ctx); err != nil {
		t.Fatalf("RefreshAndWait() error = %v", err)
	}
}

func TestBuildOptions_Unconfigured(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "kubeconfig")
	agent := buildAgent(t, `
title: empty
cluster:
  context_file: `+missing+`
  watch: false
`, "1.0.0")

	if agent.Title() != "empty" {
		t.Errorf("Title() = %q, want empty", agent.Title())
	}
	if agent.BaseInterval() != 60*time.Second {
		t.Errorf("BaseInterval() = %v, want 60s", agent.BaseInterval())
	}

	refresh(t, agent)

	for _, snap := range agent.Snapshots() {
		if snap.Err == nil || snap.Err.Kind != source.KindNotConfigured {
			t.Errorf("%v Err = %v, want not_configured", snap.Source, snap.Err)
		}
	}
}

func TestBuildOptions_Tools(t *testing.T) {
	agent := buildAgent(t, `
base_interval: 5s
tools:
  checks:
    - name: present
      command: "true"
    - name: absent
      command: "false"
`, "1.0.0")

	if got := agent.Intervals()[source.Tools]; got != 5*time.Second {
		t.Errorf("tools interval = %v, want 5s", got)
	}

	refresh(t, agent)

	snap := agent.Snapshot(source.Tools)
	if !snap.OK() {
		t.Fatalf("tools snapshot not OK: %+v", snap.Err)
	}
	report := snap.Payload.(source.ToolReport)
	present, _ := report.Lookup("present")
	absent, _ := report.Lookup("absent")
	if !present.Available {
		t.Error("present should be available")
	}
	if absent.Available {
		t.Error("absent should be unavailable")
	}
}

func TestBuildOptions_GitHubRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/repos/acme/devpulse/releases/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"tag_name":"v1.3.0","html_url":"https://example.com/r/1.3.0"}`)
	}))
	defer srv.Close()

	agent := buildAgent(t, `
github:
  base_url: `+srv.URL+`/
version:
  github_repo: acme/devpulse
  timeout: 5s
`, "v1.2.0")

	refresh(t, agent)

	snap := agent.Snapshot(source.Version)
	if !snap.OK() {
		t.Fatalf("version snapshot not OK: %+v", snap.Err)
	}
	report := snap.Payload.(source.VersionReport)
	if !report.UpdateAvailable || report.Latest != "1.3.0" {
		t.Errorf("report = %+v, want update to 1.3.0", report)
	}
}

func TestBuildOptions_VersionOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"tag_name":"v1.3.0"}`)
	}))
	defer srv.Close()

	agent := buildAgent(t, `
github:
  base_url: `+srv.URL+`/
version:
  current: 2.0.0
  github_repo: acme/devpulse
`, "not-a-version")

	refresh(t, agent)

	report := agent.Snapshot(source.Version).Payload.(source.VersionReport)
	if report.UpdateAvailable {
		t.Errorf("report = %+v, running 2.0.0 should be newest", report)
	}
}

func TestBuildOptions_Errors(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		running     string
		wantErrLike string
	}{
		{
			name: "unparseable running version",
			yaml: `
version:
  github_repo: acme/devpulse
`,
			running:     "dev",
			wantErrLike: "version:",
		},
		{
			name: "invalid oci repository",
			yaml: `
version:
  oci_repo: "ghcr.io/UPPER/Case"
`,
			running:     "1.0.0",
			wantErrLike: "version:",
		},
		{
			name: "invalid enterprise url",
			yaml: `
github:
  base_url: "://nope"
`,
			running:     "1.0.0",
			wantErrLike: "github:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			_, err = BuildOptions(cfg, tt.running, testLogger())
			if err == nil {
				t.Fatal("BuildOptions() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.wantErrLike)
			}
		})
	}
}

func TestBuildOptions_ServerAndState(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Parse([]byte(`
port: 8089
state_path: ` + filepath.Join(dir, "state.db") + `
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	opts, err := BuildOptions(cfg, "1.0.0", nil)
	if err != nil {
		t.Fatalf("BuildOptions() error = %v", err)
	}

	// logger, title, interval, server, state, then per-source options
	if len(opts) < 5 {
		t.Errorf("len(opts) = %d, want at least 5", len(opts))
	}

	agent, err := devpulse.New(opts...)
	if err != nil {
		t.Fatalf("devpulse.New() error = %v", err)
	}
	if err := agent.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestBuildClusterConfig_Selector(t *testing.T) {
	named := buildClusterConfig(ClusterConfig{Stable: "prod-eu"})
	if name, _, ok := named.Selector.Select([]string{"dev", "prod-eu"}); !ok || name != "prod-eu" {
		t.Errorf("named selector picked %q, %v", name, ok)
	}

	marked := buildClusterConfig(ClusterConfig{Markers: []string{"blue"}, FallbackToFirst: true})
	name, fallback, ok := marked.Selector.Select([]string{"green", "red"})
	if !ok || name != "green" || !fallback {
		t.Errorf("marker selector = (%q, %v, %v), want (green, true, true)", name, fallback, ok)
	}
}
