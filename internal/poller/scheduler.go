package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpalmerr/devpulse/source"
)

// ErrInvalidInterval is returned when a base interval is zero or negative.
var ErrInvalidInterval = errors.New("base interval must be positive")

// minTickInterval floors the tick to prevent CPU thrashing.
const minTickInterval = time.Second

// dueSlackDivisor sets the due-check tolerance to a fraction of the tick.
const dueSlackDivisor = 20

// Dispatcher is the subset of [Coordinator] the scheduler drives.
type Dispatcher interface {
	TryDispatch(src source.Source) bool
	ForceRefreshAll() []source.Source
	// DueSince reports the reference time the interval is measured from:
	// the start of the last successful attempt.
	DueSince(src source.Source) (time.Time, bool)
}

// SchedulerState is the lifecycle state of a [Scheduler].
type SchedulerState int

const (
	Stopped SchedulerState = iota
	Running
)

// String returns "stopped" or "running".
func (s SchedulerState) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Scheduler drives every source from a single timing loop.
//
// On each tick it dispatches the sources whose last successful attempt
// started at least one interval ago (or that never succeeded). Per-source intervals are derived
// from one base interval by the fixed multipliers in package source, and the
// loop ticks at their GCD. Checking elapsed time rather than running one timer
// per source keeps sources in step and catches up automatically after a
// suspend: a long gap since the last success makes the source due on the next
// tick.
//
// All lifecycle methods are safe for concurrent use.
type Scheduler struct {
	dispatcher Dispatcher
	sources    []source.Source
	logger     *slog.Logger
	now        func() time.Time
	minTick    time.Duration

	mu        sync.Mutex
	state     SchedulerState
	base      time.Duration
	intervals map[source.Source]time.Duration
	cancel    context.CancelFunc
	reset     chan struct{}
	done      chan struct{}

	// period is the running loop's ticker period
	period atomic.Int64
}

// NewScheduler creates a stopped [Scheduler] for sources.
//
// The base interval is supplied to [Scheduler.Start]; until then intervals are
// derived from base if it is positive.
func NewScheduler(d Dispatcher, sources []source.Source, base time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		dispatcher: d,
		sources:    append([]source.Source(nil), sources...),
		logger:     logger,
		now:        time.Now,
		minTick:    minTickInterval,
	}
	if base > 0 {
		s.base = base
		s.intervals = deriveIntervals(s.sources, base)
	}
	return s
}

// deriveIntervals computes each source's interval from base.
func deriveIntervals(sources []source.Source, base time.Duration) map[source.Source]time.Duration {
	intervals := make(map[source.Source]time.Duration, len(sources))
	for _, src := range sources {
		intervals[src] = src.Interval(base)
	}
	return intervals
}

// State returns the current lifecycle state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BaseInterval returns the current base interval.
func (s *Scheduler) BaseInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// Intervals returns a copy of the derived per-source intervals.
func (s *Scheduler) Intervals() map[source.Source]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(map[source.Source]time.Duration, len(s.intervals))
	for k, v := range s.intervals {
		cp[k] = v
	}
	return cp
}

// tickInterval determines the loop period: the GCD of all source intervals,
// floored at minTick. Must be called with s.mu held.
func (s *Scheduler) tickInterval() time.Duration {
	if len(s.intervals) == 0 {
		return max(s.base, s.minTick)
	}

	var result time.Duration
	for _, src := range s.sources {
		result = gcdDuration(result, s.intervals[src])
	}

	if result < s.minTick {
		result = s.minTick
	}
	return result
}

// gcdDuration calculates the greatest common divisor of two durations.
func gcdDuration(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Start transitions Stopped -> Running.
//
// Start is non-blocking. It immediately forces a refresh of every source, then
// ticks until [Scheduler.Stop] is called or ctx is cancelled. Calling Start
// while running is a no-op. A stopped scheduler may be started again.
//
// Returns [ErrInvalidInterval] if base is not positive.
func (s *Scheduler) Start(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return fmt.Errorf("start scheduler: %w", ErrInvalidInterval)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		return nil
	}
	s.state = Running
	s.base = base
	s.intervals = deriveIntervals(s.sources, base)
	tick := s.tickInterval()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.reset = make(chan struct{}, 1)
	s.done = make(chan struct{})
	reset, done := s.reset, s.done // capture under lock to avoid race
	s.mu.Unlock()

	s.logger.Info("scheduler started", "base_interval", base.String(), "tick", tick.String())

	started := s.dispatcher.ForceRefreshAll()
	s.logger.Debug("initial refresh dispatched", "sources", len(started))

	go s.loop(loopCtx, tick, reset, done)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, tick time.Duration, reset <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	s.period.Store(int64(tick))

	for {
		select {
		case <-ctx.Done():
			s.markStopped(done)
			return
		case <-reset:
			// read the latest period rather than the one current when
			// the signal was sent
			s.mu.Lock()
			next := s.tickInterval()
			s.mu.Unlock()
			if next != tick {
				tick = next
				ticker.Reset(tick)
				s.period.Store(int64(tick))
			}
		case <-ticker.C:
			s.Tick()
		}
	}
}

// markStopped records that the loop owning done has exited because its
// context ended, unless a newer loop has already replaced it.
func (s *Scheduler) markStopped(done chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.state = Stopped
	}
}

// Tick dispatches every source that is due at the current time.
// It never blocks on a fetch. Returns the sources that were started.
func (s *Scheduler) Tick() []source.Source {
	now := s.now()

	s.mu.Lock()
	// slack absorbs ticker jitter between the attempt that set DueSince
	// and this tick; it is far below any interval
	slack := s.tickInterval() / dueSlackDivisor
	due := make([]source.Source, 0, len(s.sources))
	for _, src := range s.sources {
		interval := s.intervals[src]
		last, ok := s.dispatcher.DueSince(src)
		if !ok || now.Sub(last) >= interval-slack {
			due = append(due, src)
		}
	}
	s.mu.Unlock()

	started := make([]source.Source, 0, len(due))
	for _, src := range due {
		if s.dispatcher.TryDispatch(src) {
			started = append(started, src)
		}
	}
	return started
}

// UpdateInterval re-derives every source interval from base.
//
// It does not force a refresh and does not touch last-success times. When
// running, the ticker is reset so the new period applies from the next tick.
// When stopped, the value is kept for reporting until the next Start.
func (s *Scheduler) UpdateInterval(base time.Duration) error {
	if base <= 0 {
		return fmt.Errorf("update interval: %w", ErrInvalidInterval)
	}

	s.mu.Lock()
	s.base = base
	s.intervals = deriveIntervals(s.sources, base)
	tick := s.tickInterval()
	running := s.state == Running
	reset := s.reset
	s.mu.Unlock()

	if running {
		// a pending signal already covers this update
		select {
		case reset <- struct{}{}:
		default:
		}
	}

	s.logger.Info("base interval updated", "base_interval", base.String(), "tick", tick.String())
	return nil
}

// Stop transitions Running -> Stopped and waits for the loop to exit.
//
// In-flight fetches are not cancelled; they complete and still write their
// snapshots. Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("scheduler stopped")
}
