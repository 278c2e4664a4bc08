// Package api exposes the HTTP interface for search and operational status.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexhaven/regtruth/internal/metrics"
	"github.com/lexhaven/regtruth/internal/search"
	"github.com/lexhaven/regtruth/internal/watchdog"
)

// Searcher answers semantic queries.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Match, error)
}

// HealthChecker runs one watchdog pass.
type HealthChecker interface {
	CheckEndpoints(ctx context.Context) (watchdog.Report, error)
}

// Server wires HTTP handlers to the search service and watchdog.
type Server struct {
	router   chi.Router
	searcher Searcher
	checker  HealthChecker
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(searcher Searcher, checker HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		searcher: searcher,
		checker:  checker,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.search)
		r.Get("/watchdog/status", s.watchdogStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"min_similarity"`
	Domain        string  `json:"domain"`
	MinConfidence float64 `json:"min_confidence"`
	PublishedOnly bool    `json:"published_only"`
	AsOfDate      string  `json:"as_of_date"`
}

type searchResponse struct {
	Matches []search.Match `json:"matches"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(s.logger, w, http.StatusBadRequest, "query is required")
		return
	}
	opts := search.Options{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		Domain:        req.Domain,
		MinConfidence: req.MinConfidence,
		PublishedOnly: req.PublishedOnly,
	}
	if req.AsOfDate != "" {
		asOf, err := time.Parse("2006-01-02", req.AsOfDate)
		if err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "as_of_date must be YYYY-MM-DD")
			return
		}
		opts.AsOfDate = asOf
	}
	matches, err := s.searcher.Search(r.Context(), req.Query, opts)
	if err != nil {
		s.logger.Error("search request failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "search failed")
		return
	}
	if matches == nil {
		matches = []search.Match{}
	}
	writeJSON(s.logger, w, http.StatusOK, searchResponse{Matches: matches})
}

func (s *Server) watchdogStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.checker.CheckEndpoints(r.Context())
	if err != nil {
		s.logger.Error("watchdog status failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "watchdog check failed")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, report)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
