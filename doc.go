// Package devpulse is a background status agent for a developer's desk: it
// polls a handful of independent signals and publishes their latest results
// to whatever presentation layer is attached.
//
// The signals are fixed (see package source): open pull requests, local tool
// availability, the current cluster context against the stable cluster, and
// whether a newer release exists. Each is fetched by a pluggable
// [source.Fetcher] on its own cadence, derived from one base interval.
//
// # Quick Start
//
//	agent, _ := devpulse.New(
//	    devpulse.WithFetcher(source.Tools, tools.NewChecker(toolsCfg)),
//	    devpulse.WithBaseInterval(30*time.Second),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	agent.Run(ctx) // blocks until ctx is cancelled
//
// Hosts usually build the options from a YAML file with
// [github.com/jpalmerr/devpulse/config.BuildOptions].
//
// # Consuming results
//
// Results can be read three ways, none of which block polling:
//
//   - [Agent.Snapshot] / [Agent.Snapshots]: the latest value per source
//   - [Agent.Subscribe]: a stream of updates with drop-oldest buffering
//   - [WithSnapshotCallback]: a function called for every update
//
// A presentation layer may also call [Agent.ForceRefreshAll] and
// [Agent.UpdateInterval] at any time.
//
// # Guarantees
//
// A source never has two fetches in flight; a refresh requested while one is
// running is skipped, not queued. A snapshot is replaced whole when a fetch
// completes, so readers never see a half-updated value. A failed fetch keeps
// the previous payload marked stale unless [source.ReplaceOnFailure] is set
// for that source. Failures are retried on the next due tick with no backoff.
//
// # Architecture
//
//   - internal/poller: the coordinator (single-flight dispatch) and the scheduler (tick loop)
//   - internal/store: last-value cache, one slot per source
//   - internal/bus: non-blocking fan-out of snapshots to subscribers
//   - internal/server: HTTP control API with Server-Sent Events
//   - internal/github, internal/tools, internal/cluster, internal/version: fetchers
//   - internal/state, internal/watch: persisted catch-up state and context file watching
//
// The internal packages are not part of the public API and may change
// without notice.
package devpulse
