// Package httpapi exposes the alert engine's status, transport controls,
// playback history and metrics over HTTP for the overlay UI.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/you/gnasty-alerts/internal/scheduler"
)

// Engine is the scheduler surface the API drives.
type Engine interface {
	Pause()
	Resume()
	Skip()
	Mute()
	Unmute()
	Status() scheduler.Status
	Subscribe(chan scheduler.Status)
	Unsubscribe(chan scheduler.Status)
}

// AlertRow is one playback-history row rendered by the API.
type AlertRow struct {
	EventID    int64     `json:"event_id"`
	Channel    string    `json:"channel"`
	Username   string    `json:"username"`
	EventType  string    `json:"event_type"`
	Amount     float64   `json:"amount"`
	Outcome    string    `json:"outcome"`
	RuleKind   string    `json:"rule_kind,omitempty"`
	RuleAmount float64   `json:"rule_amount,omitempty"`
	Ts         time.Time `json:"ts"`
}

// Store lists recorded playback outcomes.
type Store interface {
	CountAlerts(ctx context.Context, filters Filters) (int64, error)
	ListAlerts(ctx context.Context, filters Filters) ([]AlertRow, error)
}

// Options configures the server.
type Options struct {
	Addr            string
	CORSOrigins     []string
	RateLimitRPS    int
	RateLimitBurst  int
	EnableMetrics   bool
	EnableAccessLog bool
	Build           BuildInfo
	ConfigSnapshot  map[string]any
}

type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	engine     Engine
	store      Store
	opts       Options
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy

	mu     sync.Mutex
	closed bool
}

func New(engine Engine, store Store, opts Options) *Server {
	srv := &Server{
		engine:  engine,
		store:   store,
		opts:    opts,
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
	}
	if opts.EnableMetrics {
		srv.metrics = newMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.wrap("healthz", srv.handleHealthz))
	mux.HandleFunc("/status", srv.wrap("status", srv.handleStatus))
	mux.HandleFunc("/info", srv.wrap("info", srv.handleInfo))
	mux.HandleFunc("/config", srv.wrap("config", srv.handleConfig))
	mux.HandleFunc("/alerts", srv.wrap("alerts", srv.handleAlerts))
	mux.HandleFunc("/alerts/count", srv.wrap("alerts_count", srv.handleAlertsCount))
	mux.HandleFunc("/stream", srv.wrap("stream", srv.handleStream))
	mux.HandleFunc("/control/pause", srv.wrap("control", srv.control(func(e Engine) { e.Pause() })))
	mux.HandleFunc("/control/resume", srv.wrap("control", srv.control(func(e Engine) { e.Resume() })))
	mux.HandleFunc("/control/skip", srv.wrap("control", srv.control(func(e Engine) { e.Skip() })))
	mux.HandleFunc("/control/mute", srv.wrap("control", srv.control(func(e Engine) { e.Mute() })))
	mux.HandleFunc("/control/unmute", srv.wrap("control", srv.control(func(e Engine) { e.Unmute() })))
	if srv.metrics != nil {
		mux.Handle("/metrics", srv.metrics.Handler())
	}
	srv.mux = mux

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Mux exposes the underlying mux so extra handlers can be registered before
// Start.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Metrics returns the server's collectors, nil when metrics are disabled.
// Engine collectors register on Metrics().Registry().
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) wrap(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)

		if handled, status := s.cors.handlePreflight(rec, r); handled {
			s.observe(route, r, status, start)
			return
		}
		if !s.cors.applyHeaders(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			s.observe(route, r, http.StatusForbidden, start)
			return
		}
		if s.limiter != nil && !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
			s.observe(route, r, http.StatusTooManyRequests, start)
			return
		}

		handler(rec, r)
		s.observe(route, r, rec.Status(), start)
	}
}

func (s *Server) observe(route string, r *http.Request, status int, start time.Time) {
	dur := time.Since(start)
	s.metrics.ObserveRequest(route, r.Method, status, dur)
	if s.opts.EnableAccessLog {
		slog.Info("http access",
			"route", route, "method", r.Method, "status", status,
			"remote", remoteIP(r), "dur_ms", dur.Milliseconds())
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.engine.Status())
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	if s.opts.ConfigSnapshot == nil {
		http.Error(w, "config snapshot unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, s.opts.ConfigSnapshot)
}

func (s *Server) control(action func(Engine)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		action(s.engine)
		writeJSON(w, s.engine.Status())
	}
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.ListAlerts(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []AlertRow{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleAlertsCount(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "history disabled", http.StatusNotFound)
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := s.store.CountAlerts(r.Context(), filters)
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"count": n})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	updates := make(chan scheduler.Status, 64)
	s.engine.Subscribe(updates)
	defer s.engine.Unsubscribe(updates)

	s.metrics.IncSSEClients(1)
	defer s.metrics.IncSSEClients(-1)

	// Initial snapshot so the progress bar renders before the first change.
	sendStatus(w, flusher, s.engine.Status())

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case st := <-updates:
			sendStatus(w, flusher, st)
		}
	}
}

func sendStatus(w http.ResponseWriter, flusher http.Flusher, st scheduler.Status) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
