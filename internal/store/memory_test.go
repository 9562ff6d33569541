package store

import (
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/devpulse/source"
)

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	if store == nil {
		t.Fatal("NewMemoryStore() = nil")
	}

	// every source starts empty
	all := store.All()
	if len(all) != len(source.All()) {
		t.Fatalf("All() = %v items, want %v", len(all), len(source.All()))
	}
	for i, snap := range all {
		if snap.Source != source.All()[i] {
			t.Errorf("All()[%d].Source = %v, want %v", i, snap.Source, source.All()[i])
		}
		if snap.Fetched() {
			t.Errorf("All()[%d].Fetched() = true, want false", i)
		}
	}
}

func TestMemoryStore_Set(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	store.Set(source.Snapshot{
		Source:        source.Version,
		Payload:       source.VersionReport{Current: "1.0.0", Latest: "1.1.0", UpdateAvailable: true},
		ObservedAt:    now,
		LastSuccessAt: now,
	})

	got := store.Get(source.Version)
	report, ok := got.Payload.(source.VersionReport)
	if !ok {
		t.Fatalf("Get().Payload = %T, want source.VersionReport", got.Payload)
	}
	if report.Latest != "1.1.0" {
		t.Errorf("Latest = %v, want %v", report.Latest, "1.1.0")
	}
	if !got.ObservedAt.Equal(now) {
		t.Errorf("ObservedAt = %v, want %v", got.ObservedAt, now)
	}
}

func TestMemoryStore_SetOverwrites(t *testing.T) {
	store := NewMemoryStore()

	store.Set(source.Snapshot{
		Source:  source.Tools,
		Payload: source.ToolReport{Tools: []source.ToolStatus{{Name: "kubectl", Available: true}, {Name: "vpn", Available: true}}},
	})

	// second write with a single tool replaces, never merges
	store.Set(source.Snapshot{
		Source:  source.Tools,
		Payload: source.ToolReport{Tools: []source.ToolStatus{{Name: "vpn", Available: false}}},
	})

	report := store.Get(source.Tools).Payload.(source.ToolReport)
	if len(report.Tools) != 1 {
		t.Fatalf("len(Tools) = %v, want 1", len(report.Tools))
	}
	if report.Tools[0].Available {
		t.Error("vpn should be unavailable after overwrite")
	}
}

func TestMemoryStore_GetUnknownSource(t *testing.T) {
	store := NewMemoryStore()

	got := store.Get(source.Source(42))
	if got.Fetched() {
		t.Error("Get(unknown).Fetched() = true, want false")
	}
	if got.Source != source.Source(42) {
		t.Errorf("Get(unknown).Source = %v, want %v", got.Source, source.Source(42))
	}
}

// TestMemoryStore_AtomicVisibility verifies that a reader never sees the
// payload of one write paired with the timestamp of another.
func TestMemoryStore_AtomicVisibility(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// writer: payload number and timestamp offset always match
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 2000; i++ {
			at := base.Add(time.Duration(i) * time.Second)
			store.Set(source.Snapshot{
				Source:     source.PullRequests,
				Payload:    source.PullRequestList{Items: []source.PullRequest{{Number: i}}},
				ObservedAt: at,
			})
		}
		close(stop)
	}()

	// readers
	errs := make(chan string, 10)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := store.Get(source.PullRequests)
				if !snap.Fetched() {
					continue
				}
				list := snap.Payload.(source.PullRequestList)
				want := base.Add(time.Duration(list.Items[0].Number) * time.Second)
				if !snap.ObservedAt.Equal(want) {
					select {
					case errs <- snap.ObservedAt.String():
					default:
					}
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("observed torn snapshot with ObservedAt %s", e)
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	var wg sync.WaitGroup
	numGoroutines := 10
	numUpdates := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numUpdates; j++ {
				store.Set(source.Snapshot{Source: source.All()[id%len(source.All())], ObservedAt: time.Now()})
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numUpdates; j++ {
				_ = store.All()
				_ = store.Get(source.Tools)
			}
		}()
	}

	wg.Wait()
}
