// Package http serves the latest run report, the stage graph, live engine
// events and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/canopy/internal/presentation/graph"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/report"
	"github.com/aretw0/canopy/pkg/stage"
)

// ErrRunInProgress is returned by a Trigger while a previous run is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Trigger starts a run in the background and returns its ID.
type Trigger func(ctx context.Context) (string, error)

// Server holds the state behind the handler.
type Server struct {
	Graph *stage.Graph
	// Suites is the number of suites per stage, shown on the flowchart.
	Suites   map[string]int
	Streams  *StreamManager
	Gatherer prometheus.Gatherer
	Trigger  Trigger
	Version  string

	mu     sync.RWMutex
	latest *report.Report
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithGraph exposes the stage graph on /graph.
func WithGraph(g *stage.Graph) Option {
	return func(s *Server) { s.Graph = g }
}

// WithSuiteCounts annotates the stages with their suite counts.
func WithSuiteCounts(counts map[string]int) Option {
	return func(s *Server) { s.Suites = counts }
}

// WithGatherer serves the registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.Gatherer = g }
}

// WithTrigger enables POST /runs.
func WithTrigger(t Trigger) Option {
	return func(s *Server) { s.Trigger = t }
}

// WithVersion is reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.Version = v }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates the server state. Use Handler to mount it.
func NewServer(opts ...Option) *Server {
	s := &Server{
		Streams:  NewStreamManager(),
		Gatherer: prometheus.DefaultGatherer,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReport publishes a finished run.
func (s *Server) SetReport(r *report.Report) {
	s.mu.Lock()
	s.latest = r
	s.mu.Unlock()
	if r != nil {
		if b, err := json.Marshal(map[string]any{"type": "run_finish", "run_id": r.RunID, "counts": r.Counts()}); err == nil {
			s.Streams.Broadcast(string(b))
		}
	}
}

// Latest returns the last published report, or nil.
func (s *Server) Latest() *report.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.GetHealth)
	r.Get("/report", s.GetReport)
	r.Get("/graph", s.GetGraph)
	r.Get("/events", s.SubscribeEvents)
	r.Post("/runs", s.PostRun)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))

	return enableCORS(r)
}

// NewHandler is a shortcut for NewServer(opts...).Handler().
func NewHandler(opts ...Option) http.Handler {
	return NewServer(opts...).Handler()
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok", "app": "canopy"}
	if s.Version != "" {
		resp["version"] = strings.TrimSpace(s.Version)
	}
	writeJSON(w, s.logger, http.StatusOK, resp)
}

// GetReport handles GET /report. ?format=markdown returns the summary text;
// ?strict=true answers 417 when the run failed.
func (s *Server) GetReport(w http.ResponseWriter, r *http.Request) {
	rep := s.Latest()
	if rep == nil {
		http.Error(w, "no run has finished yet", http.StatusNotFound)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, report.Markdown(rep))
		return
	}
	status := http.StatusOK
	if rep.Failed() && r.URL.Query().Get("strict") == "true" {
		status = http.StatusExpectationFailed
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := report.WriteJSON(w, rep); err != nil {
		s.logger.Error("GetReport response encode failed", "err", err)
	}
}

// GetGraph handles GET /graph. ?format=mermaid returns the flowchart with
// the latest run overlaid.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	if s.Graph == nil {
		http.Error(w, "no stage graph configured", http.StatusNotFound)
		return
	}
	if r.URL.Query().Get("format") == "mermaid" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, graph.GenerateMermaid(s.Graph.Nodes(), s.Suites, graph.OverlayFrom(s.Latest())))
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{
		"order":  s.Graph.Order(),
		"nodes":  s.Graph.Nodes(),
		"suites": s.Suites,
	})
}

// PostRun handles POST /runs.
func (s *Server) PostRun(w http.ResponseWriter, r *http.Request) {
	if s.Trigger == nil {
		http.Error(w, "runs cannot be triggered on this server", http.StatusNotImplemented)
		return
	}
	id, err := s.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("Trigger error: %v", err), http.StatusInternalServerError)
		s.logger.Error("Trigger failed", "err", err)
		return
	}
	writeJSON(w, s.logger, http.StatusAccepted, map[string]string{"run_id": id})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}

// Hooks streams engine events to /events subscribers.
func (s *Server) Hooks() domain.LifecycleHooks {
	send := func(v any) {
		if b, err := json.Marshal(v); err == nil {
			s.Streams.Broadcast(string(b))
		}
	}
	return domain.LifecycleHooks{
		OnStageStart:  func(_ context.Context, e *domain.StageEvent) { send(e) },
		OnStageFinish: func(_ context.Context, e *domain.StageEvent) { send(e) },
		OnSuiteStart:  func(_ context.Context, e *domain.SuiteEvent) { send(e) },
		OnAttemptFailed: func(_ context.Context, e *domain.SuiteEvent) {
			send(struct {
				*domain.SuiteEvent
				Error string `json:"error,omitempty"`
			}{e, errString(e.Err)})
		},
		OnSuiteFinish: func(_ context.Context, e *domain.SuiteEvent) { send(e) },
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
