package poller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/devpulse/internal/bus"
	"github.com/jpalmerr/devpulse/internal/store"
	"github.com/jpalmerr/devpulse/source"
)

// DefaultFetchTimeout bounds a fetch when no per-source timeout is configured.
const DefaultFetchTimeout = 30 * time.Second

// SuccessRecorder persists last-success timestamps so catch-up survives a
// restart. Implementations must be safe for concurrent use.
type SuccessRecorder interface {
	RecordSuccess(src source.Source, at time.Time) error
}

// SourceConfig holds everything the coordinator needs for one source.
type SourceConfig struct {
	// Fetcher performs the poll. Nil means the source reports NotConfigured.
	Fetcher source.Fetcher

	// Timeout bounds each fetch. Zero uses DefaultFetchTimeout.
	Timeout time.Duration

	// Policy decides whether a failure keeps the previous payload.
	Policy source.FailurePolicy
}

// SourceState is a point-in-time view of one source's dispatch state.
type SourceState struct {
	Source        source.Source `json:"source"`
	InFlight      bool          `json:"in_flight"`
	LastAttemptAt time.Time     `json:"last_attempt_at"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	DueSince      time.Time     `json:"due_since"`
	Attempts      uint64        `json:"attempts"`
	Failures      uint64        `json:"failures"`
}

type sourceState struct {
	cfg           SourceConfig
	inFlight      bool
	lastAttemptAt time.Time
	lastSuccessAt time.Time
	attempts      uint64
	failures      uint64

	// dueSince is when the most recent successful attempt started. Due
	// checks measure from here so fetch latency does not stretch the period.
	dueSince time.Time
}

// Coordinator is the single authority over "may source X fetch now".
//
// It owns the in-flight flag and timestamps of every source and is the only
// writer of the snapshot store. Each dispatched fetch runs in its own
// goroutine; completion writes the snapshot, clears the in-flight flag and
// publishes on the bus under one lock, so per-source snapshots are always
// written in completion order.
//
// All methods are safe for concurrent use.
type Coordinator struct {
	mu     sync.Mutex
	states map[source.Source]*sourceState

	store    store.Store
	bus      *bus.Bus
	recorder SuccessRecorder
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a coordinator for every source in [source.All].
//
// Sources missing from configs get a fetcher that reports NotConfigured, so
// the fixed source set always produces snapshots. recorder may be nil.
func NewCoordinator(configs map[source.Source]SourceConfig, st store.Store, b *bus.Bus, recorder SuccessRecorder, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	states := make(map[source.Source]*sourceState, len(source.All()))
	for _, src := range source.All() {
		cfg := configs[src]
		if cfg.Fetcher == nil {
			cfg.Fetcher = notConfigured(src)
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = DefaultFetchTimeout
		}
		states[src] = &sourceState{cfg: cfg}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		states:   states,
		store:    st,
		bus:      b,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func notConfigured(src source.Source) source.Fetcher {
	return source.FetcherFunc(func(context.Context) (source.Payload, error) {
		return nil, source.NotConfigured(fmt.Sprintf("no fetcher configured for %s", src))
	})
}

// Sources returns the sources the coordinator manages.
func (c *Coordinator) Sources() []source.Source {
	return source.All()
}

// TryDispatch starts a fetch for src unless one is already in flight.
//
// Returns false immediately (no-op) if src is in flight, unknown, or the
// coordinator has been closed. Otherwise marks src in flight, records the
// attempt time, starts the fetch in a new goroutine and returns true.
func (c *Coordinator) TryDispatch(src source.Source) bool {
	c.mu.Lock()
	st, ok := c.states[src]
	if !ok || st.inFlight || c.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	attemptAt := c.now()
	st.inFlight = true
	st.lastAttemptAt = attemptAt
	st.attempts++
	cfg := st.cfg
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(src, cfg, attemptAt)
	return true
}

// ForceRefreshAll dispatches every source regardless of interval.
//
// Sources already in flight are skipped, not queued. Returns the sources that
// were started.
func (c *Coordinator) ForceRefreshAll() []source.Source {
	started := make([]source.Source, 0, len(c.states))
	for _, src := range source.All() {
		if c.TryDispatch(src) {
			started = append(started, src)
		}
	}
	return started
}

// LastSuccess returns the last successful completion time of src.
func (c *Coordinator) LastSuccess(src source.Source) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[src]
	if !ok || st.lastSuccessAt.IsZero() {
		return time.Time{}, false
	}
	return st.lastSuccessAt, true
}

// DueSince returns the start time of the most recent successful attempt of
// src, or the seeded last-success time if nothing has succeeded since.
func (c *Coordinator) DueSince(src source.Source) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[src]
	if !ok || st.dueSince.IsZero() {
		return time.Time{}, false
	}
	return st.dueSince, true
}

// State returns a snapshot of the dispatch state of src.
func (c *Coordinator) State(src source.Source) SourceState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[src]
	if !ok {
		return SourceState{Source: src}
	}
	return SourceState{
		Source:        src,
		InFlight:      st.inFlight,
		LastAttemptAt: st.lastAttemptAt,
		LastSuccessAt: st.lastSuccessAt,
		DueSince:      st.dueSince,
		Attempts:      st.attempts,
		Failures:      st.failures,
	}
}

// Seed restores a persisted last-success time for src. It only moves the
// timestamp forward and never touches the snapshot.
func (c *Coordinator) Seed(src source.Source, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[src]
	if !ok {
		return
	}
	if at.After(st.lastSuccessAt) {
		st.lastSuccessAt = at
	}
	if at.After(st.dueSince) {
		st.dueSince = at
	}
}

// Wait blocks until every in-flight fetch has completed or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the context of in-flight fetches and waits for them to
// finish. Subsequent TryDispatch calls return false. Safe to call multiple times.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
}

// run executes one fetch started at attemptAt and records its outcome.
func (c *Coordinator) run(src source.Source, cfg SourceConfig, attemptAt time.Time) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, cfg.Timeout)
	start := time.Now()
	payload, fetchErr := c.safeFetch(ctx, src, cfg.Fetcher)
	cancel()
	observedAt := c.now()

	if fetchErr == nil && c.recorder != nil {
		if err := c.recorder.RecordSuccess(src, observedAt); err != nil {
			c.logger.Warn("failed to persist last success", "source", src.String(), "error", err)
		}
	}

	c.mu.Lock()
	st := c.states[src]
	snap := c.store.Get(src).Next(payload, fetchErr, observedAt, cfg.Policy)
	c.store.Set(snap)
	if fetchErr == nil {
		st.lastSuccessAt = observedAt
		st.dueSince = attemptAt
	} else {
		st.failures++
	}
	st.inFlight = false
	c.bus.Publish(snap)
	c.mu.Unlock()

	logAttrs := []any{
		"source", src.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if fetchErr != nil {
		c.logger.Warn("fetch completed with error", append(logAttrs, "kind", string(fetchErr.Kind), "error", fetchErr.Error())...)
	} else {
		c.logger.Debug("fetch completed", logAttrs...)
	}
}

// safeFetch calls the fetcher with panic recovery.
// If the fetcher panics, it logs the full stack trace with a correlation ID
// and returns an execution error containing the ID.
func (c *Coordinator) safeFetch(ctx context.Context, src source.Source, f source.Fetcher) (payload source.Payload, fetchErr *source.FetchError) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			stack := debug.Stack()

			c.logger.Error("fetcher panic",
				"source", src.String(),
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(stack),
			)

			payload = nil
			fetchErr = source.Execution(fmt.Sprintf("fetcher panic (correlation_id: %s)", correlationID), nil)
		}
	}()

	p, err := f.Fetch(ctx)
	if err != nil {
		return nil, source.AsFetchError(err)
	}
	if p == nil {
		return nil, source.ParseFailure("fetcher returned no payload", nil)
	}
	return p, nil
}
