package source

import "time"

// FailurePolicy decides what happens to the previous payload when a fetch fails.
type FailurePolicy int

const (
	// RetainStale keeps the last good payload and marks the snapshot stale.
	RetainStale FailurePolicy = iota

	// ReplaceOnFailure drops the payload so only the error remains.
	ReplaceOnFailure
)

// String returns the config name of the policy.
func (p FailurePolicy) String() string {
	if p == ReplaceOnFailure {
		return "replace"
	}
	return "retain"
}

// Condition summarises a snapshot for rendering.
type Condition string

const (
	ConditionNeverFetched Condition = "never_fetched"
	ConditionOK           Condition = "ok"
	ConditionStale        Condition = "stale"
	ConditionFailed       Condition = "failed"
)

// Snapshot is the most recently completed fetch result for one source.
//
// Snapshots are values: the store replaces them whole, so a reader always sees
// a payload, error and timestamps that belong to the same completion.
type Snapshot struct {
	Source Source `json:"source"`

	// Payload is the last good value (possibly from an earlier fetch when
	// Stale is true). Nil if the source never succeeded or the policy dropped it.
	Payload Payload `json:"payload,omitempty"`

	// Err is the outcome of the most recent fetch; nil on success.
	Err *FetchError `json:"error,omitempty"`

	// ObservedAt is when the most recent fetch completed. Zero if never fetched.
	ObservedAt time.Time `json:"observed_at"`

	// LastSuccessAt is when Payload was fetched. Zero if never succeeded.
	LastSuccessAt time.Time `json:"last_success_at"`

	// Stale is true when Payload predates a failed fetch.
	Stale bool `json:"stale"`
}

// Empty returns the initial snapshot for src.
func Empty(src Source) Snapshot {
	return Snapshot{Source: src}
}

// Fetched reports whether any fetch has completed.
func (s Snapshot) Fetched() bool {
	return !s.ObservedAt.IsZero()
}

// OK reports whether the most recent fetch succeeded.
func (s Snapshot) OK() bool {
	return s.Fetched() && s.Err == nil
}

// Condition classifies the snapshot.
func (s Snapshot) Condition() Condition {
	switch {
	case !s.Fetched():
		return ConditionNeverFetched
	case s.Err == nil:
		return ConditionOK
	case s.Payload != nil:
		return ConditionStale
	default:
		return ConditionFailed
	}
}

// Next computes the snapshot that follows s after a fetch completes at
// observedAt with the given outcome.
func (s Snapshot) Next(payload Payload, fetchErr *FetchError, observedAt time.Time, policy FailurePolicy) Snapshot {
	next := Snapshot{
		Source:     s.Source,
		ObservedAt: observedAt,
	}
	if fetchErr == nil {
		next.Payload = payload
		next.LastSuccessAt = observedAt
		return next
	}

	next.Err = fetchErr
	next.LastSuccessAt = s.LastSuccessAt
	if policy == RetainStale && s.Payload != nil {
		next.Payload = s.Payload
		next.Stale = true
	}
	return next
}
