package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeCmd runs the root command with args and returns captured stdout
// and any error.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestRunValidate_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
base_interval: 10s
port: 8080
github:
  token: abc
tools:
  checks:
    - name: git
      command: git --version
    - name: kubectl
      command: kubectl version --client
version:
  github_repo: acme/devpulse
`)

	output, err := executeCmd(t, "validate", "-c", configPath)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	expectedPhrases := []string{
		"Config is valid!",
		"Base interval: 10s",
		"Control API:   port 8080",
		"tools            every 10s",
		"git, kubectl",
		"pull_requests    every 50s",
		"2 queries",
		"version          every 5m0s",
		"github releases of acme/devpulse",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestRunValidate_Unconfigured(t *testing.T) {
	configPath := writeConfig(t, `title: bare`)

	output, err := executeCmd(t, "validate", "-c", configPath)
	if err != nil {
		t.Fatalf("validate command error = %v", err)
	}

	for _, phrase := range []string{
		"Control API:   disabled",
		"not configured (no github token)",
		"not configured (no checks)",
		"not configured (no release source)",
	} {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestRunValidate_InvalidConfig(t *testing.T) {
	configPath := writeConfig(t, `
tools:
  checks:
    - command: git --version
`)

	_, err := executeCmd(t, "validate", "-c", configPath)
	if err == nil {
		t.Fatal("validate command expected error for invalid config, got nil")
	}

	if !strings.Contains(err.Error(), "name is required") {
		t.Errorf("error should mention 'name is required', got: %v", err)
	}
}

func TestRunValidate_MissingFile(t *testing.T) {
	_, err := executeCmd(t, "validate", "-c", "/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("validate command expected error for missing file, got nil")
	}

	if !strings.Contains(err.Error(), "failed to read") {
		t.Errorf("error should mention 'failed to read', got: %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	output, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version command error = %v", err)
	}
	if !strings.HasPrefix(output, "devpulse "+version) {
		t.Errorf("output = %q", output)
	}
}

func TestRunStatus(t *testing.T) {
	configPath := writeConfig(t, `
tools:
  checks:
    - name: shell
      command: "true"
cluster:
  context_file: `+filepath.Join(t.TempDir(), "missing")+`
  watch: false
`)

	output, err := executeCmd(t, "status", "-c", configPath, "--timeout", "10s", "--log-level", "error")
	if err != nil {
		t.Fatalf("status command error = %v", err)
	}

	for _, phrase := range []string{"SOURCE", "tools", "1/1 available", "cluster_context", "not_configured"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("output missing %q\nGot: %s", phrase, output)
		}
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "loud"); err == nil {
		t.Error("newLogger() expected error for unknown level")
	}
	if _, err := newLogger(&bytes.Buffer{}, "debug"); err != nil {
		t.Errorf("newLogger(debug) error = %v", err)
	}
}
