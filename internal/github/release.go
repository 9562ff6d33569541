package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v58/github"

	"github.com/jpalmerr/devpulse/internal/version"
)

// ReleaseSource reads the latest published release of one repository.
// It implements [version.ReleaseSource].
type ReleaseSource struct {
	client *gh.Client
	owner  string
	repo   string
}

// NewReleaseSource creates a release source for repository ("owner/name").
// A token is optional for public repositories.
func NewReleaseSource(cfg Config, repository string) (*ReleaseSource, error) {
	owner, repo, ok := strings.Cut(repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("repository %q: want owner/name", repository)
	}

	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &ReleaseSource{client: client, owner: owner, repo: repo}, nil
}

// Latest returns the newest non-draft, non-prerelease release.
func (r *ReleaseSource) Latest(ctx context.Context) (version.Release, error) {
	rel, _, err := r.client.Repositories.GetLatestRelease(ctx, r.owner, r.repo)
	if err != nil {
		return version.Release{}, classify(fmt.Sprintf("latest release %s/%s", r.owner, r.repo), err)
	}

	return version.Release{
		Version:     rel.GetTagName(),
		URL:         rel.GetHTMLURL(),
		PublishedAt: rel.GetPublishedAt().Time,
	}, nil
}

// String names the source for logs.
func (r *ReleaseSource) String() string {
	return "github:" + r.owner + "/" + r.repo
}
