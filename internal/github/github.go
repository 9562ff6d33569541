// Package github fetches open pull requests and releases from the GitHub API.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	gh "github.com/google/go-github/v58/github"

	"github.com/jpalmerr/devpulse/source"
)

// Query is one issue search whose results are tagged with Role.
type Query struct {
	Role  source.PullRequestRole
	Query string
}

// DefaultQueries lists pull requests awaiting the user's review and the
// user's own open pull requests.
var DefaultQueries = []Query{
	{Role: source.RoleReviewRequested, Query: "is:open is:pr review-requested:@me archived:false"},
	{Role: source.RoleAuthored, Query: "is:open is:pr author:@me archived:false"},
}

const defaultPerPage = 50

// Config configures the GitHub client.
type Config struct {
	// Token authenticates requests. Required for pull request searches.
	Token string

	// BaseURL points at a GitHub Enterprise API. Empty means github.com.
	BaseURL string

	// Queries overrides DefaultQueries.
	Queries []Query

	// PerPage caps results per query.
	PerPage int

	// HTTPClient is the transport. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

func newClient(cfg Config) (*gh.Client, error) {
	client := gh.NewClient(cfg.HTTPClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("github base url %q: %w", cfg.BaseURL, err)
		}
	}
	return client, nil
}

// PullRequestFetcher is the [source.Fetcher] for [source.PullRequests].
type PullRequestFetcher struct {
	client  *gh.Client
	queries []Query
	perPage int
	token   bool
}

// NewPullRequestFetcher creates a fetcher. A missing token is not an error
// here; every Fetch then reports NotConfigured.
func NewPullRequestFetcher(cfg Config) (*PullRequestFetcher, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	queries := cfg.Queries
	if len(queries) == 0 {
		queries = DefaultQueries
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}

	return &PullRequestFetcher{
		client:  client,
		queries: queries,
		perPage: perPage,
		token:   cfg.Token != "",
	}, nil
}

// Fetch runs every query and merges the results.
//
// A pull request matched by several queries keeps the role of the first
// query that found it. Results are ordered by most recently updated.
func (f *PullRequestFetcher) Fetch(ctx context.Context) (source.Payload, error) {
	if !f.token {
		return nil, source.NotConfigured("github token not set")
	}

	seen := make(map[string]bool)
	items := make([]source.PullRequest, 0)

	for _, q := range f.queries {
		opts := &gh.SearchOptions{
			Sort:        "updated",
			Order:       "desc",
			ListOptions: gh.ListOptions{PerPage: f.perPage},
		}
		result, _, err := f.client.Search.Issues(ctx, q.Query, opts)
		if err != nil {
			return nil, classify(fmt.Sprintf("search %q", q.Query), err)
		}

		for _, issue := range result.Issues {
			if !issue.IsPullRequest() {
				continue
			}
			pr := toPullRequest(issue, q.Role)
			if seen[pr.URL] {
				continue
			}
			seen[pr.URL] = true
			items = append(items, pr)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return source.PullRequestList{Items: items}, nil
}

func toPullRequest(issue *gh.Issue, role source.PullRequestRole) source.PullRequest {
	return source.PullRequest{
		Number:     issue.GetNumber(),
		Title:      issue.GetTitle(),
		Repository: repositoryName(issue.GetRepositoryURL()),
		Author:     issue.GetUser().GetLogin(),
		URL:        issue.GetHTMLURL(),
		Draft:      issue.GetDraft(),
		Role:       role,
		CreatedAt:  issue.GetCreatedAt().Time,
		UpdatedAt:  issue.GetUpdatedAt().Time,
	}
}

// repositoryName turns ".../repos/owner/name" into "owner/name".
func repositoryName(apiURL string) string {
	const marker = "/repos/"
	i := strings.LastIndex(apiURL, marker)
	if i < 0 {
		return apiURL
	}
	return apiURL[i+len(marker):]
}

// classify maps go-github errors onto fetch error kinds.
func classify(op string, err error) error {
	var (
		rateErr   *gh.RateLimitError
		abuseErr  *gh.AbuseRateLimitError
		respErr   *gh.ErrorResponse
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return source.AsFetchError(err)
	case errors.As(err, &rateErr):
		return source.Upstream(fmt.Sprintf("%s: rate limited until %s", op, rateErr.Rate.Reset.Time.Format("15:04:05")), err)
	case errors.As(err, &abuseErr):
		return source.Upstream(fmt.Sprintf("%s: secondary rate limit", op), err)
	case errors.As(err, &respErr):
		return source.Upstream(fmt.Sprintf("%s: HTTP %d", op, respErr.Response.StatusCode), err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return source.ParseFailure(op, err)
	default:
		return source.Upstream(op, err)
	}
}
