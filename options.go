package devpulse

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/devpulse/internal/bus"
	"github.com/jpalmerr/devpulse/internal/poller"
	"github.com/jpalmerr/devpulse/source"
)

// default per-source fetch timeouts
var defaultTimeouts = map[source.Source]time.Duration{
	source.Tools:          15 * time.Second,
	source.ClusterContext: 15 * time.Second,
	source.PullRequests:   30 * time.Second,
	source.Version:        30 * time.Second,
}

// agentConfig holds mutable state during Agent construction.
type agentConfig struct {
	title        string
	baseInterval time.Duration
	logger       *slog.Logger
	sources      map[source.Source]poller.SourceConfig
	callbacks    []func(source.Snapshot)
	statePath    string
	contextWatch string
	port         int
	busBuffer    int
}

func newAgentConfig() *agentConfig {
	sources := make(map[source.Source]poller.SourceConfig, len(source.All()))
	for _, src := range source.All() {
		sources[src] = poller.SourceConfig{Timeout: defaultTimeouts[src]}
	}
	return &agentConfig{
		title:        defaultTitle,
		baseInterval: DefaultBaseInterval,
		sources:      sources,
		busBuffer:    bus.DefaultBuffer,
	}
}

func (cfg *agentConfig) source(src source.Source) (poller.SourceConfig, error) {
	sc, ok := cfg.sources[src]
	if !ok {
		return poller.SourceConfig{}, fmt.Errorf("unknown source %d", int(src))
	}
	return sc, nil
}

// Option is a function that configures an [Agent] during construction.
//
// Options return an error if validation fails.
type Option func(*agentConfig) error

// WithBaseInterval sets the root polling period. Per-source intervals are
// derived from it by fixed multipliers (tools 1x, cluster context 3x, pull
// requests 5x, version 30x). Defaults to 60 seconds.
//
// Returns an error if the duration is zero or negative.
func WithBaseInterval(d time.Duration) Option {
	return func(cfg *agentConfig) error {
		if d <= 0 {
			return errors.New("base interval must be positive")
		}
		cfg.baseInterval = d
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the agent.
//
// If not specified, [slog.Default] is used. Returns an error if the logger
// is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *agentConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithFetcher sets the fetcher for src. Sources without a fetcher report
// a not-configured error on every poll.
func WithFetcher(src source.Source, f source.Fetcher) Option {
	return func(cfg *agentConfig) error {
		if f == nil {
			return fmt.Errorf("fetcher for %s cannot be nil", src)
		}
		sc, err := cfg.source(src)
		if err != nil {
			return err
		}
		sc.Fetcher = f
		cfg.sources[src] = sc
		return nil
	}
}

// WithTimeout bounds every fetch of src.
func WithTimeout(src source.Source, d time.Duration) Option {
	return func(cfg *agentConfig) error {
		if d <= 0 {
			return fmt.Errorf("timeout for %s must be positive", src)
		}
		sc, err := cfg.source(src)
		if err != nil {
			return err
		}
		sc.Timeout = d
		cfg.sources[src] = sc
		return nil
	}
}

// WithFailurePolicy decides whether a failed fetch of src keeps the previous
// payload ([source.RetainStale], the default) or clears it.
func WithFailurePolicy(src source.Source, p source.FailurePolicy) Option {
	return func(cfg *agentConfig) error {
		if p != source.RetainStale && p != source.ReplaceOnFailure {
			return fmt.Errorf("invalid failure policy %d", int(p))
		}
		sc, err := cfg.source(src)
		if err != nil {
			return err
		}
		sc.Policy = p
		cfg.sources[src] = sc
		return nil
	}
}

// WithSnapshotCallback registers a function called with every published
// snapshot.
//
// Callbacks run on one goroutine fed by a bus subscription, in registration
// order. A slow callback only delays its own subscription; if it falls behind,
// the oldest pending snapshots are dropped. Panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithSnapshotCallback(cb func(source.Snapshot)) Option {
	return func(cfg *agentConfig) error {
		if cb == nil {
			return nil
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}

// WithStatePath persists last-success times in a bbolt file at path, so a
// restart within a source's interval does not refetch it.
func WithStatePath(path string) Option {
	return func(cfg *agentConfig) error {
		cfg.statePath = path
		return nil
	}
}

// WithContextWatch refreshes the cluster context source whenever the file at
// path changes, instead of waiting for the next due tick.
func WithContextWatch(path string) Option {
	return func(cfg *agentConfig) error {
		cfg.contextWatch = path
		return nil
	}
}

// WithServer serves the HTTP control API on port while the agent runs.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithServer(port int) Option {
	return func(cfg *agentConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithTitle names the agent in logs and the control API.
func WithTitle(title string) Option {
	return func(cfg *agentConfig) error {
		if title != "" {
			cfg.title = title
		}
		return nil
	}
}

// WithBusBuffer sets how many snapshots each subscription buffers before the
// oldest are dropped. Defaults to 16.
func WithBusBuffer(n int) Option {
	return func(cfg *agentConfig) error {
		if n < 1 {
			return errors.New("bus buffer must be at least 1")
		}
		cfg.busBuffer = n
		return nil
	}
}
