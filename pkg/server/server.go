package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ha1tch/quill/pkg/cache"
	"github.com/ha1tch/quill/pkg/catalog"
	"github.com/ha1tch/quill/pkg/config"
	"github.com/ha1tch/quill/pkg/models"
	"github.com/ha1tch/quill/pkg/storage"
	"github.com/ha1tch/quill/pkg/validation"
	"github.com/rs/zerolog"
)

// Server represents the HTTP server
type Server struct {
	config    *config.Config
	storage   storage.Store
	catalogs  *catalog.Catalogs
	cache     cache.Cache
	validator validation.Validator
	logger    zerolog.Logger
	router    *chi.Mux
	http      *http.Server
	now       func() time.Time
}

// New creates a new server instance
func New(
	cfg *config.Config,
	store storage.Store,
	catalogs *catalog.Catalogs,
	cache cache.Cache,
	validator validation.Validator,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		config:    cfg,
		storage:   store,
		catalogs:  catalogs,
		cache:     cache,
		validator: validator,
		logger:    logger,
		router:    chi.NewRouter(),
		now:       time.Now,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	timeout := time.Duration(s.config.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(timeout))

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.cors)

		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)

		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{id}", s.handleGetProject)
		r.Put("/projects/{id}", s.handleUpdateProject)
		r.Delete("/projects/{id}", s.handleDeleteProject)
		r.Get("/projects/{id}/book", s.handleBook)

		r.Get("/projects/{id}/chapters", s.handleListChapters)
		r.Post("/projects/{id}/chapters", s.handleCreateChapter)
		r.Get("/chapters/{id}", s.handleGetChapter)
		r.Put("/chapters/{id}", s.handleUpdateChapter)
		r.Delete("/chapters/{id}", s.handleDeleteChapter)

		r.Get("/chapters/{id}/scenes", s.handleListScenes)
		r.Post("/chapters/{id}/scenes", s.handleCreateScene)
		r.Get("/scenes/{id}", s.handleGetScene)
		r.Put("/scenes/{id}", s.handleUpdateScene)
		r.Delete("/scenes/{id}", s.handleDeleteScene)

		s.mountCatalog(r, catalogRoutes{
			server:  s,
			catalog: s.catalogs.Characters,
			path:    "characters",
			view:    "relations-graph",
			label:   "name",
			group:   "role",
			title:   "Figurenbeziehungen",
		})
		s.mountCatalog(r, catalogRoutes{
			server:  s,
			catalog: s.catalogs.WorldItems,
			path:    "world-items",
			view:    "world-graph",
			label:   "name",
			group:   "kind",
			title:   "Weltbeziehungen",
		})

		r.Get("/projects/{id}/relations-audit", s.handleAudit)
		r.Post("/projects/{id}/relations-repair", s.handleRepair)
	})
}

func (s *Server) mountCatalog(r chi.Router, c catalogRoutes) {
	r.Get("/projects/{id}/"+c.path, c.handleList)
	r.Post("/projects/{id}/"+c.path, c.handleCreate)
	r.Get("/"+c.path+"/{id}", c.handleGet)
	r.Put("/"+c.path+"/{id}", c.handleUpdate)
	r.Delete("/"+c.path+"/{id}", c.handleDelete)
	r.Get("/"+c.path+"/{id}/neighbors", c.handleNeighbors)
	r.Get("/projects/{id}/"+c.view, c.handleGraph)
	r.Get("/projects/{id}/"+c.view+"/path", c.handlePath)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("Starting server")

	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for active ones to finish
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler returns the HTTP handler (useful for testing)
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger logs every request with zerolog
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := s.logger.Info()
			if status >= http.StatusInternalServerError {
				event = s.logger.Error()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// cors sets the CORS headers for the configured origins and answers
// preflight requests
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, allowed := range s.config.CORSOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, models.HealthResponse{
		Status: "ok",
		Time:   s.now().UTC().Format(models.TimeFormat),
	})
}

// handleVersion returns server version and storage backend
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	resp := models.VersionResponse{Version: config.Version}
	if info, ok := s.storage.(storage.InfoProvider); ok {
		resp.Storage = info.Info()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
