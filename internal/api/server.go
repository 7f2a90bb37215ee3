// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/claim-pipeline/internal/models"
	"github.com/claim-pipeline/internal/service"
	"github.com/claim-pipeline/internal/worker"
)

// Service interfaces for dependency injection and testing

// ClaimServiceInterface defines the interface for claim operations
type ClaimServiceInterface interface {
	SubmitClaim(ctx context.Context, input *service.ClaimInput) (*service.ClaimResult, error)
	RetryClaim(ctx context.Context, address string) (*service.ClaimResult, error)
	RegisterIntent(ctx context.Context, input *service.ClaimInput) error
	GetStatus(ctx context.Context, address string) (*models.ClaimRecord, error)
	ListRetryable(ctx context.Context) ([]*models.ClaimRecord, error)
}

// SweeperInterface triggers an on-demand reconciliation pass
type SweeperInterface interface {
	SweepNow(ctx context.Context) (*worker.SweepStats, error)
}

// BatchRunnerInterface triggers an on-demand batch mint pass
type BatchRunnerInterface interface {
	RunNow(ctx context.Context) (*worker.BatchStats, error)
}

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	claimService ClaimServiceInterface
	sweeper      SweeperInterface
	batchRunner  BatchRunnerInterface
	config       *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int // per-client rate limit
}

// NewServer creates a new API server instance. The sweeper and batch
// runner are optional; without them the admin endpoints return 503.
func NewServer(
	config *ServerConfig,
	claimService ClaimServiceInterface,
	sweeper SweeperInterface,
	batchRunner BatchRunnerInterface,
) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		claimService: claimService,
		sweeper:      sweeper,
		batchRunner:  batchRunner,
		config:       config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec)

	// Middleware order matters: recovery wraps everything, request IDs
	// before logging so log lines carry them
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware)
	s.router.Use(CORSMiddleware)
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
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Claim endpoints
	api.HandleFunc("/claims", s.handleSubmitClaim).Methods("POST")
	api.HandleFunc("/claims/{address}", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/claims/{address}/retry", s.handleRetryClaim).Methods("POST")

	// Registration (pre-claim intent)
	api.HandleFunc("/registrations", s.handleRegisterIntent).Methods("POST")

	// Operator endpoints
	api.HandleFunc("/admin/sweep", s.handleSweep).Methods("POST")
	api.HandleFunc("/admin/batch", s.handleBatch).Methods("POST")
	api.HandleFunc("/admin/failed", s.handleListFailed).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "claim-pipeline",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the router for tests
func (s *Server) Router() http.Handler {
	return s.router
}
