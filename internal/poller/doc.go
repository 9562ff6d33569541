// Package poller decides when each source fetches and runs the fetches.
//
// The main components are:
//
//   - [Coordinator]: owns the per-source in-flight flag and timestamps, runs
//     each fetch in its own goroutine and writes the outcome to the store
//   - [Scheduler]: a single tick-and-check loop that dispatches every source
//     whose last success is older than its interval
//
// A source never has more than one fetch in flight. Dispatch requests that
// arrive while a fetch is running are dropped, not queued.
//
// Users of the devpulse library should not need to interact with this
// package directly. Configuration is done through the main devpulse package.
package poller
