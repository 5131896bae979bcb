package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

// RosterSource produces the counselor-facing roster
type RosterSource interface {
	Project(ctx context.Context) ([]types.RosterEntry, error)
}

// SessionStats reports live logged-in sessions by role
type SessionStats interface {
	Stats() (counselors, clients int)
}

// ConnectionCounter reports open websocket connections
type ConnectionCounter interface {
	Count() int
}

// Options configures routing
type Options struct {
	AllowedOrigins []string
	WebSocketPath  string
	WebSocket      http.Handler
	MetricsPath    string
	Gatherer       prometheus.Gatherer
	Middleware     []func(http.Handler) http.Handler
	HealthTimeout  time.Duration
}

// Server is the HTTP surface: websocket upgrade, health, roster snapshot and metrics.
// It holds no business logic.
type Server struct {
	dbManager   interfaces.DatabaseManager
	roster      RosterSource
	sessions    SessionStats
	connections ConnectionCounter
	opts        Options
	startedAt   time.Time
	router      chi.Router
}

// NewServer wires routes over the given collaborators
func NewServer(db interfaces.DatabaseManager, roster RosterSource, sessions SessionStats, connections ConnectionCounter, opts Options) *Server {
	if opts.WebSocketPath == "" {
		opts.WebSocketPath = "/ws"
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 5 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		dbManager:   db,
		roster:      roster,
		sessions:    sessions,
		connections: connections,
		opts:        opts,
		startedAt:   time.Now(),
		router:      chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	for _, mw := range s.opts.Middleware {
		r.Use(mw)
	}
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.opts.WebSocket != nil {
		r.Handle(s.opts.WebSocketPath, s.opts.WebSocket)
	}
	if s.opts.MetricsPath != "" {
		if s.opts.Gatherer != nil {
			r.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
		} else {
			r.Handle(s.opts.MetricsPath, promhttp.Handler())
		}
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonMiddleware)
		r.Get("/health", s.healthCheck)
		r.Get("/api/roster", s.getRoster)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type RosterResponse struct {
	Clients []types.RosterEntry `json:"clients"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /health: storage ping plus live counts; 503 when storage is down
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.HealthTimeout)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "unavailable"
		slog.Warn("health check failed", "error", err)
	}

	counselors, clients := s.sessions.Stats()
	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
		Connections: map[string]int{
			"websockets": s.connections.Count(),
			"counselors": counselors,
			"clients":    clients,
		},
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// GET /api/roster: read-only snapshot of the roster counselors receive
func (s *Server) getRoster(w http.ResponseWriter, r *http.Request) {
	entries, err := s.roster.Project(r.Context())
	if err != nil {
		slog.Error("roster snapshot failed", "error", err)
		s.sendError(w, "Roster unavailable", http.StatusServiceUnavailable)
		return
	}
	if entries == nil {
		entries = []types.RosterEntry{}
	}
	json.NewEncoder(w).Encode(RosterResponse{Clients: entries})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
