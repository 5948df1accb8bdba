// Package server provides the HTTP server and routing for the risk engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/riskline/internal/database"
)

// Config holds server configuration.
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool
	DataDir string

	UniverseDB *database.DB
	LedgerDB   *database.DB
	HistoryDB  *database.DB
	CacheDB    *database.DB

	Assessments AssessmentService
	Bounds      BoundsUpdater
	Recalc      RecalcTrigger
	Symbols     SymbolDirectory
	TimeSpent   TimeSpentSource
	Overrides   OverrideSource
}

// Server represents the HTTP server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	port    int
	devMode bool

	engineHandlers *EngineHandlers
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	databases := map[string]*database.DB{
		"universe": cfg.UniverseDB,
		"ledger":   cfg.LedgerDB,
		"history":  cfg.HistoryDB,
		"cache":    cfg.CacheDB,
	}

	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log,
		port:    cfg.Port,
		devMode: cfg.DevMode,
		engineHandlers: NewEngineHandlers(
			cfg.Assessments,
			cfg.Bounds,
			cfg.Recalc,
			cfg.Symbols,
			cfg.TimeSpent,
			cfg.Overrides,
			cfg.Log,
		),
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DataDir, databases),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !s.devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes wires all API routes.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.systemHandlers.getHealth)
		r.Get("/system/stats", s.systemHandlers.getSystemStats)

		r.Get("/assessments/{symbol}", s.engineHandlers.getAssessment)
		r.Post("/assessments/batch", s.engineHandlers.postBatchAssessment)

		r.Route("/symbols", func(r chi.Router) {
			r.Get("/", s.engineHandlers.listSymbols)
			r.Get("/{symbol}/time-spent", s.engineHandlers.getTimeSpent)
			r.Get("/{symbol}/overrides", s.engineHandlers.getOverrides)
			r.Post("/{symbol}/bounds", s.engineHandlers.postBounds)
			r.Post("/{symbol}/log-constants", s.engineHandlers.postLogConstants)
			r.Post("/{symbol}/recalculate", s.engineHandlers.postRecalculate)
			r.Post("/{symbol}/calibration", s.engineHandlers.postCalibration)
		})
	})
}

// loggingMiddleware logs each request with zerolog.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests. Blocks until the listener
// stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("HTTP server listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
