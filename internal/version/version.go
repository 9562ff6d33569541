// Package version compares the running build against the latest release.
package version

import (
	"context"
	"fmt"
	"time"

	"github.com/blang/semver/v4"

	"github.com/jpalmerr/devpulse/source"
)

// Release describes one published release.
type Release struct {
	Version     string
	URL         string
	PublishedAt time.Time
}

// ReleaseSource looks up the latest release.
type ReleaseSource interface {
	Latest(ctx context.Context) (Release, error)
}

// Checker is the [source.Fetcher] for [source.Version].
type Checker struct {
	current    string
	currentVer semver.Version
	releases   ReleaseSource
}

// NewChecker creates a checker for the running version current.
// releases may be nil, in which case every fetch reports NotConfigured.
func NewChecker(current string, releases ReleaseSource) (*Checker, error) {
	v, err := semver.ParseTolerant(current)
	if err != nil {
		return nil, fmt.Errorf("current version %q: %w", current, err)
	}
	return &Checker{current: current, currentVer: v, releases: releases}, nil
}

// Fetch looks up the latest release and compares it to the running version.
func (c *Checker) Fetch(ctx context.Context) (source.Payload, error) {
	if c.releases == nil {
		return nil, source.NotConfigured("no release source configured")
	}

	rel, err := c.releases.Latest(ctx)
	if err != nil {
		return nil, err
	}

	latest, err := semver.ParseTolerant(rel.Version)
	if err != nil {
		return nil, source.ParseFailure(fmt.Sprintf("release version %q", rel.Version), err)
	}

	return source.VersionReport{
		Current:         c.currentVer.String(),
		Latest:          latest.String(),
		UpdateAvailable: latest.GT(c.currentVer),
		ReleaseURL:      rel.URL,
		PublishedAt:     rel.PublishedAt,
	}, nil
}

// Newest returns the highest semantic version among tags and the tag it came
// from. Pre-releases are ignored unless includePre is set. Tags that are not
// versions are skipped.
func Newest(tags []string, includePre bool) (string, semver.Version, bool) {
	var (
		bestTag string
		best    semver.Version
		found   bool
	)
	for _, tag := range tags {
		v, err := semver.ParseTolerant(tag)
		if err != nil {
			continue
		}
		if len(v.Pre) > 0 && !includePre {
			continue
		}
		if !found || v.GT(best) {
			bestTag, best, found = tag, v, true
		}
	}
	return bestTag, best, found
}
