package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jpalmerr/devpulse/source"
)

// summarize renders a snapshot's payload as one line. The error, if any, is
// appended so stale data is never shown without its warning.
func summarize(snap source.Snapshot) string {
	var line string
	switch p := snap.Payload.(type) {
	case source.PullRequestList:
		line = summarizePullRequests(p)
	case source.ToolReport:
		line = summarizeTools(p)
	case source.ClusterPair:
		line = summarizeCluster(p)
	case source.VersionReport:
		line = summarizeVersion(p)
	case nil:
		if !snap.Fetched() {
			return "waiting for first fetch"
		}
	default:
		line = fmt.Sprintf("%v", p)
	}

	if snap.Err != nil {
		if line == "" {
			return snap.Err.Error()
		}
		return fmt.Sprintf("%s (last fetch: %s)", line, snap.Err.Error())
	}
	return line
}

func summarizePullRequests(p source.PullRequestList) string {
	if len(p.Items) == 0 {
		return "no open pull requests"
	}
	counts := make(map[source.PullRequestRole]int)
	for _, pr := range p.Items {
		counts[pr.Role]++
	}
	return fmt.Sprintf("%d open, %d awaiting your review, %d authored",
		len(p.Items), counts[source.RoleReviewRequested], counts[source.RoleAuthored])
}

func summarizeTools(r source.ToolReport) string {
	var missing []string
	for _, t := range r.Tools {
		if !t.Available {
			missing = append(missing, t.Name)
		}
	}
	line := fmt.Sprintf("%d/%d available", len(r.Tools)-len(missing), len(r.Tools))
	if len(missing) > 0 {
		line += ", missing: " + strings.Join(missing, ", ")
	}
	return line
}

func summarizeCluster(p source.ClusterPair) string {
	current := p.Current.Name
	if current == "" {
		current = "none"
	}
	switch {
	case p.Stable.Name == "":
		return fmt.Sprintf("current %s, no stable cluster", current)
	case p.OnStable():
		return fmt.Sprintf("current %s (on stable)", current)
	}
	stable := p.Stable.Name
	if p.Stable.Fallback {
		stable += " (fallback)"
	}
	return fmt.Sprintf("current %s, stable %s", current, stable)
}

func summarizeVersion(v source.VersionReport) string {
	if v.UpdateAvailable {
		return fmt.Sprintf("%s, update available: %s", v.Current, v.Latest)
	}
	return fmt.Sprintf("%s, up to date", v.Current)
}

// age renders how long ago t was, or "never".
func age(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}
