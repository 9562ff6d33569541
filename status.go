package devpulse

import (
	"time"

	"github.com/jpalmerr/devpulse/source"
)

// SourceStatus combines a source's dispatch state with its latest snapshot.
//
// It is a point-in-time copy; later polls do not change it.
type SourceStatus struct {
	// Source identifies the polled domain.
	Source source.Source `json:"source"`

	// Interval is the derived time between required fetches.
	Interval time.Duration `json:"interval"`

	// Condition summarises the snapshot: never fetched, ok, stale or failed.
	Condition source.Condition `json:"condition"`

	// InFlight is true while a fetch is running.
	InFlight bool `json:"in_flight"`

	// LastAttemptAt is when the most recent fetch started. Zero until the
	// first dispatch.
	LastAttemptAt time.Time `json:"last_attempt_at"`

	// LastSuccessAt is when the most recent successful fetch completed,
	// including times restored from the state file.
	LastSuccessAt time.Time `json:"last_success_at"`

	// DueSince is when the most recent successful fetch started. The
	// interval is measured from here.
	DueSince time.Time `json:"due_since"`

	// Attempts and Failures count fetches since the agent was created.
	Attempts uint64 `json:"attempts"`
	Failures uint64 `json:"failures"`

	// Snapshot is the latest published result.
	Snapshot source.Snapshot `json:"snapshot"`
}

// NextDue returns when the source next becomes due, or the zero time if it
// has never succeeded (and so is due on every tick).
func (s SourceStatus) NextDue() time.Time {
	if s.DueSince.IsZero() {
		return time.Time{}
	}
	return s.DueSince.Add(s.Interval)
}

// Statuses returns the status of every source in display order.
func (a *Agent) Statuses() []SourceStatus {
	intervals := a.scheduler.Intervals()

	out := make([]SourceStatus, 0, len(source.All()))
	for _, src := range source.All() {
		st := a.coordinator.State(src)
		snap := a.store.Get(src)
		out = append(out, SourceStatus{
			Source:        src,
			Interval:      intervals[src],
			Condition:     snap.Condition(),
			InFlight:      st.InFlight,
			LastAttemptAt: st.LastAttemptAt,
			LastSuccessAt: st.LastSuccessAt,
			DueSince:      st.DueSince,
			Attempts:      st.Attempts,
			Failures:      st.Failures,
			Snapshot:      snap,
		})
	}
	return out
}
