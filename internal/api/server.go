// Package api provides the admin HTTP surface: health, queue stats and
// manual job dispatch.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/logging"
)

// JobQueue is the subset of the job queue the API needs
type JobQueue interface {
	Enqueue(ctx context.Context, queue, name string, payload interface{}, opts job.Options) (*job.Job, bool, error)
	AllStats(ctx context.Context) ([]*job.Stats, error)
	GetJob(ctx context.Context, queue, id string) (*job.Job, error)
	Policies() job.Policies
}

// Pinger is a dependency checked by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	queue      JobQueue
	checks     map[string]Pinger
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	HealthTimeout  time.Duration
	Logger         *logging.Logger
}

// NewServer creates a new API server instance. checks are pinged by /health,
// keyed by the name reported in the response.
func NewServer(config *ServerConfig, queue JobQueue, checks map[string]Pinger) *Server {
	logger := config.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 2 * time.Second
	}

	s := &Server{
		router: mux.NewRouter(),
		queue:  queue,
		checks: checks,
		config: config,
		logger: logger.Named("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// recovery sits inside logging so a panic is still logged with its status
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/queues", s.handleQueueStats).Methods("GET")
	api.HandleFunc("/queues/{queue}/jobs", s.handleEnqueue).Methods("POST")
	api.HandleFunc("/queues/{queue}/jobs/{id}", s.handleGetJob).Methods("GET")
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth pings every dependency and reports 503 when one is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			s.logger.WithError(err).WithField("dependency", name).Warn("Health check failed")
			checks[name] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	respondJSON(w, code, map[string]interface{}{
		"status":  status,
		"service": "incident-sync",
		"checks":  checks,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
