// Package gateway is the HTTP surface: an OpenAI-compatible chat-completions
// endpoint plus REST endpoints for completions, deployments, experiments, and
// models.
package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anotherai-dev/anotherai-sub001/internal/catalog"
	"github.com/anotherai-dev/anotherai-sub001/internal/deployments"
	"github.com/anotherai-dev/anotherai-sub001/internal/observability"
	"github.com/anotherai-dev/anotherai-sub001/internal/playground"
	"github.com/anotherai-dev/anotherai-sub001/internal/runner"
	"github.com/anotherai-dev/anotherai-sub001/internal/storage"
)

// Server holds the wired components behind the HTTP surface.
type Server struct {
	Runner      *runner.Runner
	Playground  *playground.Orchestrator
	Deployments *deployments.Resolver
	Stores      storage.StoreSet
	Cache       *storage.CompletionCache
	Catalog     *catalog.Catalog
	Metrics     *observability.Metrics
	Logger      *slog.Logger

	// Gatherer backs the /metrics endpoint; defaults to the process registry.
	Gatherer prometheus.Gatherer
}

// New wires a server over the given components.
func New(r *runner.Runner, pg *playground.Orchestrator, dep *deployments.Resolver,
	stores storage.StoreSet, models *catalog.Catalog,
	metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Runner:      r,
		Playground:  pg,
		Deployments: dep,
		Stores:      stores,
		Cache:       storage.NewCompletionCache(stores.Completions),
		Catalog:     models,
		Metrics:     metrics,
		Logger:      logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.recordMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", s.handleChatCompletions)

		r.Get("/models", s.handleListModels)
		r.Get("/completions/{id}", s.handleGetCompletion)
		r.Get("/completions", s.handleListCompletions)

		r.Get("/deployments", s.handleListDeployments)
		r.Post("/deployments", s.handleUpsertDeployment)
		r.Get("/deployments/{id}", s.handleGetDeployment)
		r.Patch("/deployments/{id}", s.handleUpdateDeployment)
		r.Post("/deployments/{id}/archive", s.handleArchiveDeployment)

		r.Post("/experiments", s.handleCreateExperiment)
		r.Get("/experiments/{id}", s.handleGetExperiment)
	})
	return r
}

func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		s.Metrics.RecordHTTP(r.Method, route, ww.Status(), time.Since(start))
	})
}
