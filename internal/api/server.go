package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/graph"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
	"github.com/opensource-finance/heron/internal/stream"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Deps are the collaborators served over HTTP.
// Cache, Bus, Profiles and Hub are optional.
type Deps struct {
	Scoring  *scoring.Service
	Registry *rules.Registry
	Repo     domain.Repository
	Graph    *graph.Service
	Cache    domain.Cache
	Bus      domain.EventBus
	Profiles *features.StoreProvider
	Metrics  *metrics.Collector
	Hub      *stream.Hub

	// AsyncIngest enables POST /transactions?async=true.
	AsyncIngest bool
	Version     string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(MetricsMiddleware(deps.Metrics))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	// Rule registry
	router.Get("/rules", handler.ListRules)
	router.Post("/rules/update", handler.UpdateRule)
	router.Post("/rules/groups/update", handler.UpdateGroup)

	// Scoring
	router.Post("/predict", handler.Predict)

	// Transactions
	router.Route("/transactions", func(r chi.Router) {
		r.Post("/", handler.IngestTransaction)
		r.Get("/", handler.ListTransactions)
		r.Get("/{id}", handler.GetTransaction)
		r.Post("/{id}/verify", handler.VerifyTransaction)
	})

	// Accounts
	router.Route("/accounts/{id}", func(r chi.Router) {
		r.Get("/", handler.GetAccount)
		r.Get("/context", handler.GetAccountContext)
		r.Put("/profile", handler.PutAccountProfile)
	})

	router.Get("/stats", handler.GetStats)
	router.Post("/admin/reset", handler.Reset)

	if deps.Hub != nil {
		router.Method(http.MethodGet, "/ws/alerts", deps.Hub)
	}

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
