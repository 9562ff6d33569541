package store

import "github.com/jpalmerr/devpulse/source"

// Store defines the interface for the per-source snapshot cache.
//
// Store implementations must be safe for concurrent access and must replace
// snapshots atomically.
type Store interface {
	// Get returns the current snapshot for src. Sources that have never been
	// written return [source.Empty].
	Get(src source.Source) source.Snapshot

	// Set replaces the snapshot stored for snapshot.Source.
	Set(snapshot source.Snapshot)

	// All returns the snapshots of every known source in [source.All] order.
	All() []source.Snapshot
}
