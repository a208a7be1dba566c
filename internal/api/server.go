package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/regcheck/internal/app"
	"github.com/dgallion1/regcheck/internal/config"
)

// Server is the HTTP API server for regcheck.
type Server struct {
	router chi.Router
	app    *app.App
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(a *app.App, log *slog.Logger) *Server {
	s := &Server{
		app: a,
		log: log,
		cfg: a.Config,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log, s.app.Metrics))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/compliance/check", s.handleComplianceCheck)

		r.Get("/documents/status", s.handleDocumentStatus)
		r.Post("/documents/reload", s.handleReload)
		r.Post("/documents/ingest", s.handleIngest)
		r.Get("/documents/ingest/{jobID}", s.handleIngestStatus)
		r.Get("/documents/jobs", s.handleListJobs)

		r.Post("/debug/chunks", s.handleDebugChunks)
		r.Get("/debug/stats", s.handleChunkStats)
		r.Get("/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	vectorDB := "connected"
	if _, err := s.app.Store.CountByDocument(r.Context()); err != nil {
		s.log.Warn("vector store unreachable", "error", err)
		vectorDB = "disconnected"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"vector_db": vectorDB,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
