package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jpalmerr/devpulse/internal/bus"
	"github.com/jpalmerr/devpulse/internal/poller"
	"github.com/jpalmerr/devpulse/source"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// This prevents goroutine leaks when clients are slow or disconnected.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// maxBodySize caps request bodies on the control routes.
	maxBodySize = 4 << 10
)

// Controller is the agent surface the server exposes over HTTP.
type Controller interface {
	Snapshots() []source.Snapshot
	Snapshot(src source.Source) source.Snapshot
	Subscribe(sources ...source.Source) *bus.Subscription
	ForceRefreshAll() []source.Source
	UpdateInterval(base time.Duration) error
	BaseInterval() time.Duration
	Intervals() map[source.Source]time.Duration
	DispatchState(src source.Source) poller.SourceState
}

// Server handles HTTP requests for the agent's control API.
//
// Routes:
//   - GET /api/snapshots: all current snapshots as JSON
//   - GET /api/snapshots/{source}: one snapshot
//   - GET /api/sse: Server-Sent Events stream of snapshot updates
//   - POST /api/refresh: force a refresh of every source
//   - PUT /api/interval: change the base interval
//   - GET /api/sources: per-source dispatch state and interval
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	ctrl   Controller
	port   int
	title  string
	logger *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
	done       chan struct{}
}

// NewServer creates a new HTTP [Server].
// The server is not started until [Server.Start] is called.
func NewServer(ctrl Controller, port int, title string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ctrl:   ctrl,
		port:   port,
		title:  title,
		logger: logger,
	}
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/snapshots/{source}", s.handleSnapshot)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("PUT /api/interval", s.handleInterval)
	mux.HandleFunc("GET /api/sources", s.handleSources)
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout. Port 0 picks a free port; see [Server.Addr].
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running handlers like SSE.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.done = done
	s.mu.Unlock()

	s.logger.Info("control api listening", "addr", ln.Addr().String(), "title", s.title)

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Wait blocks until the server started by the last [Server.Start] has shut
// down and released its port. It returns immediately if Start was never called.
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// snapshotView adds the derived condition to a snapshot's JSON.
type snapshotView struct {
	source.Snapshot
	Condition source.Condition `json:"condition"`
}

func view(snap source.Snapshot) snapshotView {
	return snapshotView{Snapshot: snap, Condition: snap.Condition()}
}

// sourceView is one entry of GET /api/sources.
type sourceView struct {
	poller.SourceState
	Interval  string           `json:"interval"`
	Condition source.Condition `json:"condition"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleSnapshots returns every current snapshot as JSON.
func (s *Server) handleSnapshots(w http.ResponseWriter, _ *http.Request) {
	snaps := s.ctrl.Snapshots()
	views := make([]snapshotView, len(snaps))
	for i, snap := range snaps {
		views[i] = view(snap)
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	src, err := source.Parse(r.PathValue("source"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, view(s.ctrl.Snapshot(src)))
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	started := s.ctrl.ForceRefreshAll()
	s.logger.Info("refresh requested", "dispatched", len(started))
	s.writeJSON(w, http.StatusAccepted, map[string]any{"dispatched": started})
}

type intervalRequest struct {
	BaseInterval string `json:"base_interval"`
}

func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	base, err := time.ParseDuration(req.BaseInterval)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid base_interval %q", req.BaseInterval))
		return
	}
	if err := s.ctrl.UpdateInterval(base); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"base_interval": s.ctrl.BaseInterval().String()})
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	intervals := s.ctrl.Intervals()
	snaps := s.ctrl.Snapshots()

	views := make([]sourceView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, sourceView{
			SourceState: s.ctrl.DispatchState(snap.Source),
			Interval:    intervals[snap.Source].String(),
			Condition:   snap.Condition(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"base_interval": s.ctrl.BaseInterval().String(),
		"sources":       views,
	})
}

// parseSourceFilter reads ?source=tools,version.
func parseSourceFilter(raw string) ([]source.Source, error) {
	if raw == "" {
		return nil, nil
	}
	var sources []source.Source
	for _, name := range strings.Split(raw, ",") {
		src, err := source.Parse(name)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// handleSSE streams snapshot updates via Server-Sent Events.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked Fprintf call would prevent
// the handler from detecting context cancellation or channel closure.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	filter, err := parseSourceFilter(r.URL.Query().Get("source"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// subscribe before sending the initial state so no update is missed
	sub := s.ctrl.Subscribe(filter...)
	defer sub.Close()

	wanted := make(map[source.Source]bool, len(filter))
	for _, src := range filter {
		wanted[src] = true
	}
	for _, snap := range s.ctrl.Snapshots() {
		if len(wanted) > 0 && !wanted[snap.Source] {
			continue
		}
		data, err := json.Marshal(view(snap))
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(view(snap))
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// request context is derived from server context via BaseContext,
			// so this fires on both client disconnect AND server shutdown
			return
		}
	}
}
