package devpulse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/devpulse/internal/bus"
	"github.com/jpalmerr/devpulse/internal/poller"
	"github.com/jpalmerr/devpulse/internal/server"
	"github.com/jpalmerr/devpulse/internal/state"
	"github.com/jpalmerr/devpulse/internal/store"
	"github.com/jpalmerr/devpulse/internal/watch"
	"github.com/jpalmerr/devpulse/source"
)

const (
	// DefaultBaseInterval is the root polling period when none is configured.
	DefaultBaseInterval = 60 * time.Second

	defaultTitle = "devpulse"
)

// ErrClosed is returned by [Agent.Start] after [Agent.Close].
var ErrClosed = errors.New("agent closed")

// Subscription is a consumer-held stream of snapshot updates.
//
// Read from C until it is closed; call Close when done. Each subscription
// buffers independently and drops its oldest pending snapshot when full, so
// a slow reader never delays other subscribers or the pollers.
type Subscription = bus.Subscription

// Agent polls every source in the background and publishes their snapshots.
//
// An Agent is created with [New] and driven either with [Agent.Run], which
// blocks until its context is cancelled, or with [Agent.Start] and
// [Agent.Close] for hosts that own their own lifecycle.
//
// Typical use:
//
//	agent, err := devpulse.New(
//	    devpulse.WithFetcher(source.Tools, checker),
//	    devpulse.WithBaseInterval(30*time.Second),
//	)
//	if err != nil {
//	    slog.Error("failed to create agent", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	agent.Run(ctx)
//
// Snapshots can be read at any time with [Agent.Snapshot], whether or not
// the agent is running. All methods are safe for concurrent use.
type Agent struct {
	title        string
	port         int
	contextWatch string
	callbacks    []func(source.Snapshot)
	logger       *slog.Logger

	store       *store.MemoryStore
	bus         *bus.Bus
	coordinator *poller.Coordinator
	scheduler   *poller.Scheduler
	state       *state.Store

	mu          sync.Mutex
	running     bool
	closed      bool
	runID       uint64
	cancel      context.CancelFunc
	watcher     *watch.Watcher
	callbackSub *bus.Subscription
	server      *server.Server
	wg          sync.WaitGroup
}

// New creates an [Agent] with the given options.
//
// Every source exists from the start; sources without a fetcher report a
// not-configured error when polled. Returns an error if an option is invalid
// or the state file cannot be opened.
func New(opts ...Option) (*Agent, error) {
	cfg := newAgentConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		title:        cfg.title,
		port:         cfg.port,
		contextWatch: cfg.contextWatch,
		callbacks:    cfg.callbacks,
		logger:       logger,
		store:        store.NewMemoryStore(),
		bus:          bus.New(cfg.busBuffer),
	}

	// keep the recorder a true nil interface when persistence is off
	var recorder poller.SuccessRecorder
	if cfg.statePath != "" {
		st, err := state.Open(cfg.statePath)
		if err != nil {
			return nil, err
		}
		a.state = st
		recorder = st
	}

	a.coordinator = poller.NewCoordinator(cfg.sources, a.store, a.bus, recorder, logger)
	a.scheduler = poller.NewScheduler(a.coordinator, source.All(), cfg.baseInterval, logger)

	if a.state != nil {
		a.restoreState()
	}
	return a, nil
}

// restoreState seeds last-success times so fresh sources are not refetched
// immediately after a restart.
func (a *Agent) restoreState() {
	saved, err := a.state.Load()
	if err != nil {
		a.logger.Warn("failed to load persisted state", "path", a.state.Path(), "error", err)
		return
	}
	for src, at := range saved {
		a.coordinator.Seed(src, at)
	}
	a.logger.Debug("restored last-success times", "sources", len(saved))
}

// Start begins polling in the background and returns immediately.
//
// Every source is refreshed at once, then each is fetched again whenever its
// interval has elapsed since its last success. The control API and context
// file watcher start too when configured. Calling Start on a running agent is
// a no-op; a stopped agent may be started again.
//
// Cancelling ctx stops the agent as [Agent.Stop] would.
func (a *Agent) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	if len(a.callbacks) > 0 {
		sub := a.bus.Subscribe()
		a.callbackSub = sub
		a.wg.Add(1)
		go a.consumeCallbacks(sub)
	}

	if a.contextWatch != "" {
		w, err := watch.New(a.contextWatch, watch.DefaultDebounce, func() {
			if a.coordinator.TryDispatch(source.ClusterContext) {
				a.logger.Debug("context file changed, refreshing", "source", source.ClusterContext.String())
			}
		}, a.logger)
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			if w != nil {
				_ = w.Close()
			}
			a.stopLocked(cancel)
			return fmt.Errorf("watch context file: %w", err)
		}
		a.watcher = w
	}

	if a.port > 0 {
		srv := server.NewServer(controller{a}, a.port, a.title, a.logger)
		if err := srv.Start(runCtx); err != nil {
			a.stopLocked(cancel)
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		a.server = srv
	}

	if err := a.scheduler.Start(runCtx, a.scheduler.BaseInterval()); err != nil {
		a.stopLocked(cancel)
		return err
	}

	a.cancel = cancel
	a.running = true
	a.runID++
	id := a.runID

	// stop when the caller's context ends
	go func() {
		<-runCtx.Done()
		a.stopRun(id)
	}()

	a.logger.Info("devpulse started",
		"title", a.title,
		"base_interval", a.scheduler.BaseInterval().String(),
		"sources", len(source.All()),
	)
	return nil
}

// Stop stops scheduling, the control API and the file watcher.
//
// Fetches already in flight are not cancelled; they complete and still
// update their snapshots. Stop is idempotent.
func (a *Agent) Stop() {
	a.mu.Lock()
	id := a.runID
	a.mu.Unlock()
	a.stopRun(id)
}

// stopRun stops the run identified by id, unless a later Start replaced it.
func (a *Agent) stopRun(id uint64) {
	a.mu.Lock()
	if !a.running || a.runID != id {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.cancel = nil
	a.stopLocked(cancel)
	a.mu.Unlock()

	// wait outside the lock so callbacks may call back into the agent
	a.wg.Wait()
	a.logger.Info("devpulse stopped")
}

// stopLocked tears down everything Start created. Must be called with a.mu held.
func (a *Agent) stopLocked(cancel context.CancelFunc) {
	a.scheduler.Stop()
	if cancel != nil {
		cancel()
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Warn("failed to close file watcher", "error", err)
		}
		a.watcher = nil
	}
	if a.callbackSub != nil {
		a.callbackSub.Close()
		a.callbackSub = nil
	}
	if a.server != nil {
		// the port must be free again before a restart
		a.server.Wait()
		a.server = nil
	}
}

// Close stops the agent, cancels in-flight fetches and releases the state
// file. A closed agent cannot be restarted. Close is idempotent.
func (a *Agent) Close() error {
	a.Stop()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.coordinator.Close()
	a.bus.Close()
	if err := a.state.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	return nil
}

// Run starts the agent and blocks until ctx is cancelled, then closes it.
//
// Returns nil on graceful shutdown, or the error from [Agent.Start].
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Close()
}

// Running reports whether the scheduler loop is active.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Title returns the configured title.
func (a *Agent) Title() string {
	return a.title
}

// ForceRefreshAll dispatches every source now, regardless of interval.
// Sources already being fetched are skipped. Returns the sources started.
func (a *Agent) ForceRefreshAll() []source.Source {
	return a.coordinator.ForceRefreshAll()
}

// Refresh dispatches src now unless it is already being fetched.
func (a *Agent) Refresh(src source.Source) bool {
	return a.coordinator.TryDispatch(src)
}

// RefreshAndWait forces a refresh of every source and waits until no fetch
// is in flight or ctx is done.
func (a *Agent) RefreshAndWait(ctx context.Context) error {
	a.coordinator.ForceRefreshAll()
	return a.coordinator.Wait(ctx)
}

// UpdateInterval changes the base interval at runtime.
//
// All per-source intervals are re-derived and the new timing applies from the
// next tick. Snapshots and last-success times are kept and no refresh is
// forced.
func (a *Agent) UpdateInterval(base time.Duration) error {
	return a.scheduler.UpdateInterval(base)
}

// BaseInterval returns the current base interval.
func (a *Agent) BaseInterval() time.Duration {
	return a.scheduler.BaseInterval()
}

// Intervals returns each source's derived interval.
func (a *Agent) Intervals() map[source.Source]time.Duration {
	return a.scheduler.Intervals()
}

// Snapshot returns the latest snapshot of src.
func (a *Agent) Snapshot(src source.Source) source.Snapshot {
	return a.store.Get(src)
}

// Snapshots returns the latest snapshot of every source.
func (a *Agent) Snapshots() []source.Snapshot {
	return a.store.All()
}

// Subscribe returns a stream of snapshot updates for sources, or for every
// source when none are given.
func (a *Agent) Subscribe(sources ...source.Source) *Subscription {
	return a.bus.Subscribe(sources...)
}

// consumeCallbacks feeds snapshot callbacks from one subscription.
func (a *Agent) consumeCallbacks(sub *bus.Subscription) {
	defer a.wg.Done()
	for snap := range sub.C() {
		for _, cb := range a.callbacks {
			invokeCallbackSafe(cb, snap, a.logger)
		}
	}
}

// invokeCallbackSafe calls a snapshot callback with panic recovery.
// Panics are logged with a correlation ID but do not propagate.
func invokeCallbackSafe(cb func(source.Snapshot), snap source.Snapshot, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("snapshot callback panicked",
				"panic", r,
				"source", snap.Source.String(),
				"correlation_id", uuid.NewString(),
			)
		}
	}()
	cb(snap)
}

// controller exposes the agent to the control API.
type controller struct {
	*Agent
}

func (c controller) DispatchState(src source.Source) poller.SourceState {
	return c.coordinator.State(src)
}
