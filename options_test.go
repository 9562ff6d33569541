package devpulse

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/devpulse/source"
)

func TestNew_Defaults(t *testing.T) {
	a, err := New(WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.BaseInterval() != DefaultBaseInterval {
		t.Errorf("BaseInterval() = %v, want %v", a.BaseInterval(), DefaultBaseInterval)
	}
	if a.Title() != "devpulse" {
		t.Errorf("Title() = %q, want devpulse", a.Title())
	}

	intervals := a.Intervals()
	want := map[source.Source]time.Duration{
		source.Tools:          time.Minute,
		source.ClusterContext: 3 * time.Minute,
		source.PullRequests:   5 * time.Minute,
		source.Version:        30 * time.Minute,
	}
	for src, d := range want {
		if intervals[src] != d {
			t.Errorf("interval[%v] = %v, want %v", src, intervals[src], d)
		}
	}

	for _, snap := range a.Snapshots() {
		if snap.Condition() != source.ConditionNeverFetched {
			t.Errorf("%v condition = %v, want never_fetched", snap.Source, snap.Condition())
		}
	}
}

func TestOptions_Validation(t *testing.T) {
	noop := source.FetcherFunc(func(context.Context) (source.Payload, error) { return nil, nil })

	tests := []struct {
		name    string
		opt     Option
		wantErr string
	}{
		{"zero base interval", WithBaseInterval(0), "base interval must be positive"},
		{"negative base interval", WithBaseInterval(-time.Second), "base interval must be positive"},
		{"nil logger", WithLogger(nil), "logger cannot be nil"},
		{"nil fetcher", WithFetcher(source.Tools, nil), "cannot be nil"},
		{"unknown source fetcher", WithFetcher(source.Source(42), noop), "unknown source"},
		{"zero timeout", WithTimeout(source.Version, 0), "must be positive"},
		{"unknown source timeout", WithTimeout(source.Source(-1), time.Second), "unknown source"},
		{"invalid policy", WithFailurePolicy(source.Tools, source.FailurePolicy(9)), "invalid failure policy"},
		{"port too low", WithServer(0), "port must be between"},
		{"port too high", WithServer(70000), "port must be between"},
		{"bus buffer", WithBusBuffer(0), "bus buffer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithLogger(testLogger()), tt.opt)
			if err == nil {
				t.Fatal("New() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestOptions_Valid(t *testing.T) {
	noop := source.FetcherFunc(func(context.Context) (source.Payload, error) {
		return source.ToolReport{}, nil
	})

	a, err := New(
		WithLogger(testLogger()),
		WithBaseInterval(10*time.Second),
		WithFetcher(source.Tools, noop),
		WithTimeout(source.Tools, time.Second),
		WithFailurePolicy(source.PullRequests, source.ReplaceOnFailure),
		WithSnapshotCallback(nil), // ignored
		WithTitle("desk"),
		WithTitle(""), // keeps previous
		WithServer(18080),
		WithBusBuffer(4),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.BaseInterval() != 10*time.Second {
		t.Errorf("BaseInterval() = %v, want 10s", a.BaseInterval())
	}
	if a.Title() != "desk" {
		t.Errorf("Title() = %q, want desk", a.Title())
	}
	if len(a.callbacks) != 0 {
		t.Errorf("nil callback registered")
	}
}

func TestNew_StatePathError(t *testing.T) {
	// a directory cannot be opened as a database file
	dir := t.TempDir()
	if _, err := New(WithLogger(testLogger()), WithStatePath(dir)); err == nil {
		t.Error("New() expected error for directory state path")
	}

	// and a valid path works
	a, err := New(WithLogger(testLogger()), WithStatePath(filepath.Join(dir, "state.db")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = a.Close()
}
