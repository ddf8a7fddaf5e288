// Package dashboard implements the optional read-only status surface
// (A4 in SPEC_FULL.md): a chi-routed HTTP server exposing per-wave
// progress, the dead-letter queue, a live event WebSocket stream, and
// Prometheus metrics. Adapted from the teacher's internal/api/routes.go
// Server — same middleware stack and route-grouping shape, repointed
// at queue.Store/reporter instead of a Redis task queue.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flyingrobots/slaps/internal/dashboard/middleware"
	"github.com/flyingrobots/slaps/internal/dashboard/websocket"
	"github.com/flyingrobots/slaps/internal/queue"
	"github.com/flyingrobots/slaps/internal/reporter"
	"github.com/flyingrobots/slaps/internal/task"
	"github.com/flyingrobots/slaps/internal/worker"
)

// Config configures which routes and middleware the dashboard exposes.
type Config struct {
	Addr          string
	MetricsPath   string
	MetricsEnable bool
	RateLimitRPS  int
	Auth          middleware.AuthConfig
}

// Server is the dashboard's HTTP server.
type Server struct {
	router *chi.Mux
	cfg    Config
	store  queue.Store
	waves  []int
	pool   *worker.Pool

	hub       *websocket.Hub
	wsHandler *websocket.Handler
}

// NewServer builds a dashboard server reading store for the given
// waves. source may be nil (single-process deployments broadcast
// local events directly via Hub.Broadcast instead). pool may be nil,
// in which case the admin pause/resume routes return 503.
func NewServer(cfg Config, store queue.Store, waves []int, pool *worker.Pool, source websocket.EventSource) *Server {
	hub := websocket.NewHub(source)
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		store:     store,
		waves:     waves,
		pool:      pool,
		hub:       hub,
		wsHandler: websocket.NewHandler(hub),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	s.router.Route("/status", func(r chi.Router) {
		if s.cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(s.cfg.RateLimitRPS))
		}
		r.Get("/waves/{wave}", s.handleWaveStatus)
		r.Get("/dlq", s.handleDLQ)
		r.Get("/stream", s.wsHandler.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(&s.cfg.Auth))
			r.Post("/workers/pause", s.handlePause)
			r.Post("/workers/resume", s.handleResume)
		})
	})

	if s.cfg.MetricsEnable {
		path := s.cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.Handler())
	}
}

// Start runs the WebSocket hub's fan-out loop.
func (s *Server) Start(ctx context.Context) { go s.hub.Run(ctx) }

// Stop stops the WebSocket hub.
func (s *Server) Stop() { s.hub.Stop() }

// Router returns the chi router, e.g. for http.ListenAndServe.
func (s *Server) Router() *chi.Mux { return s.router }

func parseWaveParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "wave")
	wave, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid wave %q", raw)
	}
	return wave, nil
}

func (s *Server) handleWaveStatus(w http.ResponseWriter, r *http.Request) {
	wave, err := parseWaveParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	counts, err := reporter.CountsForWave(r.Context(), s.store, wave)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wave":       counts.Wave,
		"blocked":    counts.Blocked,
		"open":       counts.Open,
		"claimed":    counts.Claimed,
		"closed":     counts.Closed,
		"failure":    counts.Failure,
		"dead":       counts.Dead,
		"total":      counts.Total(),
		"progressed": counts.Progressed(),
		"ratio":      counts.Ratio(),
		"report":     reporter.Render(counts, nil),
	})
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	type deadEntry struct {
		Wave  int    `json:"wave"`
		Issue int    `json:"issue"`
		Body  string `json:"body"`
	}
	var dead []deadEntry
	for _, wave := range s.waves {
		issues, err := s.store.List(r.Context(), wave, task.StateDead)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, issue := range issues {
			entry, err := s.store.Get(r.Context(), wave, issue)
			if err != nil {
				continue
			}
			dead = append(dead, deadEntry{Wave: wave, Issue: issue, Body: entry.Body})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dead": dead})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if s.pool == nil {
		http.Error(w, "no worker pool attached to this dashboard instance", http.StatusServiceUnavailable)
		return
	}
	s.pool.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if s.pool == nil {
		http.Error(w, "no worker pool attached to this dashboard instance", http.StatusServiceUnavailable)
		return
	}
	s.pool.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
