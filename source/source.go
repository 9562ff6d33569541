// Package source defines the data model shared by the devpulse agent and its
// consumers: the fixed set of polled sources, the snapshots published for
// them, the typed fetch errors, and the payload records each fetcher returns.
//
// Consumers (a tray menu, a terminal UI, the HTTP API) only need this package
// and the root devpulse package. Everything else lives under internal/.
package source

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies one independently polled external signal.
type Source int

const (
	// PullRequests is the source-control pull request list.
	PullRequests Source = iota

	// Tools is the local tool availability report.
	Tools

	// ClusterContext is the current/stable cluster context pair.
	ClusterContext

	// Version is the release version check.
	Version
)

// multipliers maps each source to its fixed multiple of the base interval.
// Tools are cheap and local; the release check rarely changes.
var multipliers = map[Source]int{
	Tools:          1,
	ClusterContext: 3,
	PullRequests:   5,
	Version:        30,
}

var names = map[Source]string{
	PullRequests:   "pull_requests",
	Tools:          "tools",
	ClusterContext: "cluster_context",
	Version:        "version",
}

// All returns every source in a stable order.
func All() []Source {
	return []Source{PullRequests, Tools, ClusterContext, Version}
}

// String returns the snake_case name used in config, logs, and the HTTP API.
func (s Source) String() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("source(%d)", int(s))
}

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	_, ok := names[s]
	return ok
}

// Multiplier returns the fixed multiple of the base interval for s.
// Unknown sources poll at the base interval.
func (s Source) Multiplier() int {
	if m, ok := multipliers[s]; ok {
		return m
	}
	return 1
}

// Interval derives the polling interval of s from the base interval.
func (s Source) Interval(base time.Duration) time.Duration {
	return base * time.Duration(s.Multiplier())
}

// MarshalText implements encoding.TextMarshaler so sources render by name in
// JSON map keys and values.
func (s Source) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown source %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse resolves a source by name. Hyphens and case are ignored, so
// "pull-requests", "PULL_REQUESTS" and "pull_requests" are equivalent.
func Parse(name string) (Source, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for s, n := range names {
		if n == normalized {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown source %q", name)
}
