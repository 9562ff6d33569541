// Package bus fans snapshot updates out to independent subscribers.
//
// Each subscriber owns a bounded buffer. Publish never blocks: when a
// subscriber's buffer is full the oldest pending snapshot is discarded to make
// room for the newest, so a stalled consumer only ever loses stale data and
// never delays the others.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/jpalmerr/devpulse/source"
)

// DefaultBuffer is the per-subscriber buffer used when none is given.
const DefaultBuffer = 16

// Bus is a multi-consumer broadcast of [source.Snapshot] values.
//
// The zero value is not usable; create one with [New].
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// New creates a bus whose subscriptions buffer up to buffer snapshots.
// Non-positive values use [DefaultBuffer].
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription is a consumer-held handle on the bus.
type Subscription struct {
	bus     *Bus
	ch      chan source.Snapshot
	filter  map[source.Source]bool
	closed  bool // guarded by bus.mu
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new subscriber. With no sources the subscription
// receives every snapshot; otherwise only those of the listed sources.
//
// Caller must call [Subscription.Close] when done to prevent resource leaks.
func (b *Bus) Subscribe(sources ...source.Source) *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan source.Snapshot, b.buffer),
	}
	if len(sources) > 0 {
		sub.filter = make(map[source.Source]bool, len(sources))
		for _, src := range sources {
			sub.filter[src] = true
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Publish delivers snapshot to every matching subscriber without blocking.
func (b *Bus) Publish(snapshot source.Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.closed || !sub.wants(snapshot.Source) {
			continue
		}
		sub.offer(snapshot)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Publishing afterwards is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		sub.closeLocked()
		delete(b.subs, sub)
	}
}

// C returns the channel on which snapshots arrive. It is closed by
// [Subscription.Close] or [Bus.Close].
func (s *Subscription) C() <-chan source.Snapshot {
	return s.ch
}

// Dropped returns how many snapshots were discarded for this subscriber
// because its buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription and closes its channel.
// Safe to call multiple times and concurrently with Publish.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	s.closeLocked()
	delete(s.bus.subs, s)
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		s.closed = true
		close(s.ch)
	})
}

func (s *Subscription) wants(src source.Source) bool {
	return s.filter == nil || s.filter[src]
}

// offer performs a non-blocking send, evicting the oldest buffered snapshot
// when the buffer is full. Called with bus.mu held for reading, which keeps
// the channel open for the duration.
func (s *Subscription) offer(snapshot source.Snapshot) {
	select {
	case s.ch <- snapshot:
		return
	default:
	}

	// buffer full: drop the oldest pending value
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- snapshot:
	default:
		// another publisher refilled the slot; this value is the one lost
		s.dropped.Add(1)
	}
}
