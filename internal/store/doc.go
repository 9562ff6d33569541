// Package store provides the last-known-good snapshot cache of the agent.
//
// This package is internal to devpulse and holds exactly one [source.Snapshot]
// per source. Snapshots are replaced whole under a lock, so a reader never
// observes a payload from one fetch paired with the timestamps of another.
//
// The main components are:
//
//   - [Store]: Interface defining read and write operations
//   - [MemoryStore]: In-memory implementation of Store
//
// Only the refresh coordinator writes to the store. Consumers read it through
// the root devpulse package or receive updates from the publication bus.
package store
