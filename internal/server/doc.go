// Package server provides the HTTP control API for a running devpulse agent.
//
// It exposes snapshots as JSON, streams updates over Server-Sent Events and
// accepts refresh and interval changes from a presentation layer that runs
// out of process.
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the devpulse library should not need to interact with this
// package directly. The server is started by [devpulse.Agent.Start] when
// [devpulse.WithServer] is set.
package server
