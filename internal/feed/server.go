// Package feed serves upload progress over HTTP: a websocket stream of queue
// events, JSON snapshots of the job list and the queue's Prometheus metrics.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/clipcloud/internal/auth"
	"github.com/tonimelisma/clipcloud/internal/queue"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Source is the part of queue.Queue the feed reads.
type Source interface {
	Jobs() []queue.Job
	Get(id string) (queue.Job, error)
	OnEvent(fn func(queue.Event)) (remove func())
	Registry() *prometheus.Registry
}

// Options configures a Server.
type Options struct {
	Addr string

	// OriginPatterns are extra hosts allowed to open the websocket from a
	// browser. Same-origin requests are always accepted.
	OriginPatterns []string

	ShutdownTimeout time.Duration
	WriteTimeout    time.Duration
	Logger          *slog.Logger
}

// Server is the progress feed.
type Server struct {
	src         Source
	opts        Options
	hub         *hub
	router      chi.Router
	logger      *slog.Logger
	nowFunc     func() time.Time
	unsubscribe func()
}

// New builds the router and starts forwarding queue events to subscribers.
// Call Close to stop forwarding.
func New(src Source, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	s := &Server{
		src:     src,
		opts:    opts,
		hub:     newHub(),
		logger:  opts.Logger,
		nowFunc: time.Now,
	}

	m := newHTTPMetrics(src.Registry(), s.hub)

	r := chi.NewRouter()
	r.Use(m.middleware)
	r.Get("/healthz", s.handleHealth)
	r.Get("/jobs", s.handleJobs)
	r.Get("/jobs/{id}", s.handleJob)
	r.Get("/events", s.handleEvents)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(src.Registry(), promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
	}))

	s.router = r
	s.unsubscribe = src.OnEvent(s.hub.publish)

	return s
}

// Handler returns the feed's routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops forwarding queue events.
func (s *Server) Close() {
	s.unsubscribe()
}

// Run listens on Options.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("feed: listening on %s: %w", s.opts.Addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// Websocket subscribers are told the server is going away.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		// Hijacked websocket connections are not tracked by Shutdown, so
		// request contexts derive from gctx to end them too.
		BaseContext: func(net.Listener) context.Context { return gctx },
		ErrorLog:    slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	s.logger.Info("progress feed listening", slog.String("addr", ln.Addr().String()))

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("feed: serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("feed: shutdown: %w", err)
		}

		s.logger.Info("progress feed stopped")

		return nil
	})

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleJobs serves GET /jobs, optionally filtered by ?status= and
// ?provider=.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	status := queue.Status(r.URL.Query().Get("status"))
	if status != "" && !slices.Contains(queue.AllStatuses, status) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}

	var provider auth.Provider

	if raw := r.URL.Query().Get("provider"); raw != "" {
		p, err := auth.ParseProvider(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		provider = p
	}

	jobs := make([]queue.Job, 0)

	for _, j := range s.src.Jobs() {
		if status != "" && j.Status != status {
			continue
		}

		if provider != "" && j.Provider != provider {
			continue
		}

		jobs = append(jobs, j)
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.src.Get(chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleEvents upgrades to a websocket, sends a snapshot of every job, then
// streams queue events until the client goes away or falls too far behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer c.CloseNow()

	sub := &subscriber{
		msgs: make(chan Message, subscriberBuffer),
		closeSlow: func() {
			_ = c.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
		},
	}

	// Subscribe before the snapshot so no event falls between the two.
	s.hub.add(sub)
	defer s.hub.remove(sub)

	// The feed is one-way; CloseRead handles pings and reports the close.
	ctx := c.CloseRead(r.Context())

	s.logger.Debug("feed subscriber connected", slog.String("remote_addr", r.RemoteAddr))

	if err := s.write(ctx, c, snapshotMessage(s.src.Jobs(), s.nowFunc())); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			if r.Context().Err() != nil {
				_ = c.Close(websocket.StatusGoingAway, "server shutting down")
			}

			return

		case msg := <-sub.msgs:
			if err := s.write(ctx, c, msg); err != nil {
				s.logger.Debug("feed subscriber dropped", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, c *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()

	return wsjson.Write(ctx, c, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
