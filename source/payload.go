package source

import (
	"context"
	"time"
)

// Payload is the typed value a successful fetch produces.
//
// Payloads are treated as immutable once returned by a Fetcher: the store
// hands the same value to every reader, so neither fetchers nor consumers may
// modify the slices they contain.
type Payload interface {
	// Source reports which source the payload belongs to.
	Source() Source
}

// Fetcher performs one polling operation for one source.
//
// Fetch must honour ctx cancellation and return a *FetchError (or an error
// that [AsFetchError] can classify) on failure. Fetchers must not touch shared
// agent state; the coordinator records the outcome.
type Fetcher interface {
	Fetch(ctx context.Context) (Payload, error)
}

// FetcherFunc adapts a function to the [Fetcher] interface.
type FetcherFunc func(ctx context.Context) (Payload, error)

// Fetch calls f(ctx).
func (f FetcherFunc) Fetch(ctx context.Context) (Payload, error) {
	return f(ctx)
}

// PullRequestRole describes why a pull request is listed.
type PullRequestRole string

const (
	RoleReviewRequested PullRequestRole = "review_requested"
	RoleAuthored        PullRequestRole = "authored"
	RoleAssigned        PullRequestRole = "assigned"
	RoleOther           PullRequestRole = "other"
)

// PullRequest is one open pull request.
type PullRequest struct {
	Number     int             `json:"number"`
	Title      string          `json:"title"`
	Repository string          `json:"repository"`
	Author     string          `json:"author"`
	URL        string          `json:"url"`
	Draft      bool            `json:"draft"`
	Role       PullRequestRole `json:"role"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PullRequestList is the payload of the [PullRequests] source.
type PullRequestList struct {
	Items []PullRequest `json:"items"`
}

// Source implements Payload.
func (PullRequestList) Source() Source { return PullRequests }

// ToolStatus is the availability of one local tool.
//
// A failed check is reported here rather than failing the whole fetch, so a
// missing VPN client does not hide the kubectl result.
type ToolStatus struct {
	Name      string      `json:"name"`
	Available bool        `json:"available"`
	Err       *FetchError `json:"error,omitempty"`
	CheckedAt time.Time   `json:"checked_at"`
}

// ToolReport is the payload of the [Tools] source.
type ToolReport struct {
	Tools []ToolStatus `json:"tools"`
}

// Source implements Payload.
func (ToolReport) Source() Source { return Tools }

// Lookup returns the status for the named tool.
func (r ToolReport) Lookup(name string) (ToolStatus, bool) {
	for _, t := range r.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolStatus{}, false
}

// ClusterContextRecord describes one kube context.
type ClusterContextRecord struct {
	Name      string `json:"name"`
	Cluster   string `json:"cluster,omitempty"`
	Server    string `json:"server,omitempty"`
	Namespace string `json:"namespace,omitempty"`

	// Fallback is set when the record was chosen without a positive match
	// (for example "first available cluster").
	Fallback bool `json:"fallback,omitempty"`
}

// ClusterPair is the payload of the [ClusterContext] source.
type ClusterPair struct {
	Current ClusterContextRecord `json:"current"`
	Stable  ClusterContextRecord `json:"stable"`
}

// Source implements Payload.
func (ClusterPair) Source() Source { return ClusterContext }

// OnStable reports whether the current context targets the stable cluster.
func (p ClusterPair) OnStable() bool {
	if p.Stable.Name == "" {
		return false
	}
	return p.Current.Cluster == p.Stable.Name || p.Current.Name == p.Stable.Name
}

// VersionReport is the payload of the [Version] source.
type VersionReport struct {
	Current         string    `json:"current"`
	Latest          string    `json:"latest"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	PublishedAt     time.Time `json:"published_at,omitempty"`
}

// Source implements Payload.
func (VersionReport) Source() Source { return Version }
