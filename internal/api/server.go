// Package api provides the HTTP API server and handlers for the captions service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/http/response"
	"github.com/listenupapp/listenup-captions/internal/ratelimit"
	"github.com/listenupapp/listenup-captions/internal/search"
	"github.com/listenupapp/listenup-captions/internal/sse"
	"github.com/listenupapp/listenup-captions/internal/store/sqlite"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	catalog    *sqlite.Store
	index      *search.TranscriptIndex
	services   *Services
	sseManager *sse.Manager
	sseHandler *sse.Handler
	router     *chi.Mux
	api        huma.API
	limiter    *ratelimit.KeyedRateLimiter
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
// The catalog, index and sseManager are only used for health reporting and may be nil.
func NewServer(
	cfg config.ServerConfig,
	services *Services,
	catalog *sqlite.Store,
	index *search.TranscriptIndex,
	sseManager *sse.Manager,
	logger *slog.Logger,
) *Server {
	router := chi.NewRouter()

	s := &Server{
		catalog:    catalog,
		index:      index,
		services:   services,
		sseManager: sseManager,
		router:     router,
		limiter:    ratelimit.New(RequestsPerSecond, RequestBurst),
		logger:     logger,
	}
	if sseManager != nil {
		s.sseHandler = sse.NewHandler(sseManager, logger)
	}

	s.setupMiddleware(cfg)

	humaConfig := huma.DefaultConfig("ListenUp Captions API", APIVersion)
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"session": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "PASETO",
		},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)

	s.api = humachi.New(router, humaConfig)
	RegisterErrorHandler()

	s.registerRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API for tests and OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases the rate limiter's sweeper.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) setupMiddleware(cfg config.ServerConfig) {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	s.router.Use(RateLimitMiddleware(s.limiter, s.logger))

	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.NotFound(w, "route not found", s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.MethodNotAllowed(w, "method not allowed", s.logger)
	})
}

func (s *Server) registerRoutes() {
	s.registerHealthRoutes()
	s.registerBookRoutes()
	s.registerTranscriptRoutes()
	s.registerTranscriptionRoutes()
	s.registerSessionRoutes()

	if s.sseHandler != nil {
		s.router.With(s.resolveStreamSession).Get("/api/v1/events", s.sseHandler.ServeHTTP)
	}
}
