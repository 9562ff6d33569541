package store

import (
	"sync"

	"github.com/jpalmerr/devpulse/source"
)

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore is pre-populated with an empty snapshot for every source in
// [source.All], so Get never has to distinguish "unknown" from "never fetched".
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[source.Source]source.Snapshot
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore() *MemoryStore {
	snapshots := make(map[source.Source]source.Snapshot, len(source.All()))
	for _, src := range source.All() {
		snapshots[src] = source.Empty(src)
	}
	return &MemoryStore{snapshots: snapshots}
}

// Get returns the current snapshot for src.
func (m *MemoryStore) Get(src source.Source) source.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if snap, ok := m.snapshots[src]; ok {
		return snap
	}
	return source.Empty(src)
}

// Set replaces the snapshot for snapshot.Source.
//
// The previous value is overwritten, never merged.
func (m *MemoryStore) Set(snapshot source.Snapshot) {
	m.mu.Lock()
	m.snapshots[snapshot.Source] = snapshot
	m.mu.Unlock()
}

// All returns a copy of all stored snapshots.
//
// Known sources come first in [source.All] order; any other source that was
// written follows. The returned slice is a copy; modifications do not affect
// the store.
func (m *MemoryStore) All() []source.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]source.Snapshot, 0, len(m.snapshots))
	seen := make(map[source.Source]bool, len(m.snapshots))
	for _, src := range source.All() {
		if snap, ok := m.snapshots[src]; ok {
			results = append(results, snap)
			seen[src] = true
		}
	}
	for src, snap := range m.snapshots {
		if !seen[src] {
			results = append(results, snap)
		}
	}
	return results
}
