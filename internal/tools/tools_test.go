package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jpalmerr/devpulse/source"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type exitError int

func (e exitError) Error() string { return "exit status" }
func (e exitError) ExitCode() int { return int(e) }

// fakeRunner answers by shell command text.
type fakeRunner struct {
	mu       sync.Mutex
	results  map[string]error
	delay    time.Duration
	commands [][]string

	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, command []string) (string, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	err := f.results[command[len(command)-1]]
	f.mu.Unlock()

	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", err
}

func TestChecker_Fetch(t *testing.T) {
	runner := &fakeRunner{results: map[string]error{
		"which kubectl": nil,
		"pgrep -x vpnd": exitError(1),
	}}
	c := NewChecker(Config{
		Checks: []Check{
			{Name: "kubectl", Command: "which kubectl"},
			{Name: "vpn", Command: "pgrep -x vpnd"},
		},
		Runner: runner,
		Logger: testLogger(),
	})

	p, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	report := p.(source.ToolReport)

	if len(report.Tools) != 2 || report.Tools[0].Name != "kubectl" || report.Tools[1].Name != "vpn" {
		t.Fatalf("Tools = %+v, want configured order", report.Tools)
	}

	kubectl, _ := report.Lookup("kubectl")
	if !kubectl.Available || kubectl.Err != nil {
		t.Errorf("kubectl = %+v, want available without error", kubectl)
	}

	vpn, _ := report.Lookup("vpn")
	if vpn.Available {
		t.Error("vpn should be unavailable")
	}
	if vpn.Err == nil || vpn.Err.Kind != source.KindExecution || vpn.Err.Detail != "exit code 1" {
		t.Errorf("vpn.Err = %v, want execution error \"exit code 1\"", vpn.Err)
	}
	if vpn.CheckedAt.IsZero() {
		t.Error("CheckedAt not set")
	}

	for _, cmd := range runner.commands {
		if len(cmd) != 3 || cmd[0] != "sh" || cmd[1] != "-c" {
			t.Errorf("command = %q, want sh -c <check>", cmd)
		}
	}
}

func TestChecker_PerCheckTimeout(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	c := NewChecker(Config{
		Checks:  []Check{{Name: "slow", Command: "sleep 10"}},
		Timeout: 20 * time.Millisecond,
		Runner:  runner,
		Logger:  testLogger(),
	})

	p, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	slow, _ := p.(source.ToolReport).Lookup("slow")
	if slow.Available || slow.Err == nil || slow.Err.Kind != source.KindTimeout {
		t.Errorf("slow = %+v, want timeout", slow)
	}
}

func TestChecker_ConcurrencyLimit(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	checks := make([]Check, 8)
	for i := range checks {
		checks[i] = Check{Name: string(rune('a' + i)), Command: "true"}
	}
	c := NewChecker(Config{Checks: checks, Concurrency: 2, Runner: runner, Logger: testLogger()})

	if _, err := c.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if peak := runner.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestChecker_NoChecks(t *testing.T) {
	_, err := NewChecker(Config{}).Fetch(context.Background())
	if !errors.Is(err, source.ErrNotConfigured) {
		t.Errorf("Fetch() error = %v, want not configured", err)
	}
}

func TestChecker_CancelledFetch(t *testing.T) {
	c := NewChecker(Config{
		Checks: []Check{{Name: "x", Command: "true"}},
		Runner: &fakeRunner{delay: time.Second},
		Logger: testLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx)
	if !errors.Is(err, source.ErrTimeout) {
		t.Errorf("Fetch() error = %v, want timeout", err)
	}
}

func TestShellRunner(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		available bool
		detail    string
	}{
		{"exit zero", "exit 0", true, ""},
		{"exit one", "exit 1", false, "exit code 1"},
		{"exit three", "echo nope >&2; exit 3", false, "exit code 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(Config{
				Checks: []Check{{Name: "t", Command: tt.command}},
				Logger: testLogger(),
			})
			p, err := c.Fetch(context.Background())
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			got, _ := p.(source.ToolReport).Lookup("t")
			if got.Available != tt.available {
				t.Errorf("Available = %v, want %v", got.Available, tt.available)
			}
			if tt.detail != "" && (got.Err == nil || !strings.HasPrefix(got.Err.Detail, tt.detail)) {
				t.Errorf("Err = %v, want %q", got.Err, tt.detail)
			}
		})
	}
}

func TestShellRunner_EmptyCommand(t *testing.T) {
	if _, err := (ShellRunner{}).Run(context.Background(), nil); err == nil {
		t.Error("expected error for empty command")
	}
}

// TestShellRunner_TimeoutKillsChildren runs a shell whose child outlives the
// shell's own kill. The check must still fail at its timeout, not when the
// child exits.
func TestShellRunner_TimeoutKillsChildren(t *testing.T) {
	c := NewChecker(Config{
		Checks:  []Check{{Name: "sleepy", Command: "sleep 4; true"}},
		Timeout: 300 * time.Millisecond,
		Logger:  testLogger(),
	})

	start := time.Now()
	p, err := c.Fetch(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if elapsed > 2*time.Second {
		t.Errorf("Fetch() took %v with a 300ms check timeout", elapsed)
	}
	got, _ := p.(source.ToolReport).Lookup("sleepy")
	if got.Available || got.Err == nil || got.Err.Kind != source.KindTimeout {
		t.Errorf("sleepy = %+v, want timeout", got)
	}
}
