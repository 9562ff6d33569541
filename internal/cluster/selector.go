package cluster

import (
	"strings"
)

// Selector picks the stable cluster from the available cluster names.
//
// fallback reports that the choice was not a positive match. ok is false when
// no cluster could be chosen.
type Selector interface {
	Select(clusters []string) (name string, fallback bool, ok bool)
}

// DefaultMarkers are matched against cluster names by [MarkerSelector].
var DefaultMarkers = []string{"stable"}

// MarkerSelector chooses the first cluster whose name contains one of
// Markers, case-insensitively. Earlier markers win over later ones.
//
// When nothing matches and FallbackToFirst is set, the first cluster is
// returned flagged as a fallback.
type MarkerSelector struct {
	Markers         []string
	FallbackToFirst bool
}

// Select implements Selector.
func (m MarkerSelector) Select(clusters []string) (string, bool, bool) {
	markers := m.Markers
	if len(markers) == 0 {
		markers = DefaultMarkers
	}

	for _, marker := range markers {
		marker = strings.ToLower(marker)
		for _, c := range clusters {
			if strings.Contains(strings.ToLower(c), marker) {
				return c, false, true
			}
		}
	}

	if m.FallbackToFirst && len(clusters) > 0 {
		return clusters[0], true, true
	}
	return "", false, false
}

// NameSelector chooses one named cluster if it is available.
type NameSelector string

// Select implements Selector.
func (n NameSelector) Select(clusters []string) (string, bool, bool) {
	for _, c := range clusters {
		if c == string(n) {
			return c, false, true
		}
	}
	return "", false, false
}
