// Package api exposes the admin surface (graph builds, seeders) and the
// trust lookup endpoint over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/build"
	"github.com/alvmarrod/trust-weaver/internal/memory"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/alvmarrod/trust-weaver/internal/trust"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// BuildService runs and reports graph builds
type BuildService interface {
	Status() build.Status
	StartBuild(ctx context.Context) (*build.Run, error)
	History(ctx context.Context, limit int) ([]storage.GraphBuild, error)
}

// SeedRegistry manages the curated seeder set
type SeedRegistry interface {
	ListSeeders(ctx context.Context) ([]storage.Seeder, error)
	AddSeeder(ctx context.Context, identifier, region, label, addedBy string) (*storage.Seeder, error)
	RemoveSeeder(ctx context.Context, identifier string) error
}

// GraphStats reports the size of the active snapshot
type GraphStats interface {
	Stats() memory.Stats
}

// Scorer explains trust scores
type Scorer interface {
	Explain(identifier string) trust.Breakdown
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr   string
	AdminToken   string
	TrustRPS     float64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the HTTP API server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	builds     BuildService
	seeds      SeedRegistry
	graph      GraphStats
	scorer     Scorer
	config     ServerConfig
}

// NewServer creates a new API server instance
func NewServer(config ServerConfig, builds BuildService, seeds SeedRegistry, graph GraphStats, scorer Scorer) *Server {
	s := &Server{
		router: mux.NewRouter(),
		builds: builds,
		seeds:  seeds,
		graph:  graph,
		scorer: scorer,
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures middleware, routes and the underlying http.Server
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(AdminAuthMiddleware(s.config.AdminToken))
	admin.HandleFunc("/graph", s.handleGetGraph).Methods(http.MethodGet)
	admin.HandleFunc("/graph", s.handleBuildGraph).Methods(http.MethodPost)
	admin.HandleFunc("/seeders", s.handleListSeeders).Methods(http.MethodGet)
	admin.HandleFunc("/seeders", s.handleAddSeeder).Methods(http.MethodPost)
	admin.HandleFunc("/seeders/{identifier}", s.handleRemoveSeeder).Methods(http.MethodDelete)

	trustRoutes := s.router.PathPrefix("/trust").Subrouter()
	if s.config.TrustRPS > 0 {
		trustRoutes.Use(RateLimitMiddleware(NewRateLimiter(s.config.TrustRPS)))
	}
	trustRoutes.HandleFunc("/{identifier}", s.handleGetTrust).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler returns the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"service":    "trust-weaver",
		"isBuilding": s.builds.Status().IsRunning,
	})
}

// Start listens until Shutdown is called. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	logrus.Infof("Starting API server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logrus.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
