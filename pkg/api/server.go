// Package api serves the read-only reporting endpoints over persisted
// healthcheck records.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/util"
)

// StateSource reports the lifecycle state of each running engine by name.
type StateSource func() map[string]string

type Server struct {
	query      store.QueryStore
	states     StateSource
	httpServer *http.Server
	router     *chi.Mux
	logger     *zap.Logger
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer wires the router. states may be nil when no engines run in-process.
func NewServer(query store.QueryStore, states StateSource, config ServerConfig, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	s := &Server{
		query:  query,
		states: states,
		router: r,
		logger: util.Component(logger, "api"),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/healthchecks", func(r chi.Router) {
		r.Get("/types", s.listTypes)
		r.Route("/{type}", func(r chi.Router) {
			r.Get("/emitters", s.listEmitters)
			r.Get("/sessions", s.listSessions)
			r.Get("/records", s.listRecords)
		})
	})

	s.router.Route("/groups", func(r chi.Router) {
		r.Get("/", s.listGroups)
		r.Get("/{groupId}/emitters", s.listGroupEmitters)
	})
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() {
	s.logger.Info("starting HTTP API server", zap.String("addr", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.states != nil {
		body["engines"] = s.states()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) listTypes(w http.ResponseWriter, r *http.Request) {
	names, err := s.query.Namespaces(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) listEmitters(w http.ResponseWriter, r *http.Request) {
	emitters, err := s.query.Emitters(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, emitters)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	emitterID := r.URL.Query().Get("emitterId")
	if emitterID == "" {
		s.errorResponse(w, http.StatusBadRequest, "emitterId is required")
		return
	}
	sessions, err := s.query.Sessions(r.Context(), chi.URLParam(r, "type"), emitterID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	emitterID := q.Get("emitterId")
	if emitterID == "" {
		s.errorResponse(w, http.StatusBadRequest, "emitterId is required")
		return
	}
	session, err := strconv.ParseInt(q.Get("sessionTimestamp"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "sessionTimestamp must be an integer")
		return
	}

	records, err := s.query.SessionRecords(r.Context(), chi.URLParam(r, "type"), emitterID, session)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.query.Groups(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, groups)
}

func (s *Server) listGroupEmitters(w http.ResponseWriter, r *http.Request) {
	emitters, err := s.query.EmittersForGroup(r.Context(), chi.URLParam(r, "groupId"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, emitters)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnknownTopic) {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("query failed", zap.Error(err))
	s.errorResponse(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}
