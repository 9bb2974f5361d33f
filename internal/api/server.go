// Package api exposes the HTTP interface for the notifier service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mlpa-gradi/notifier/internal/config"
	"github.com/mlpa-gradi/notifier/internal/metrics"
	"github.com/mlpa-gradi/notifier/internal/report"
	"github.com/mlpa-gradi/notifier/internal/sse"
	"github.com/mlpa-gradi/notifier/internal/storage"
	"github.com/mlpa-gradi/notifier/internal/store"
)

// PollerControl is the slice of the queue poller the admin API needs.
type PollerControl interface {
	ResetBreaker()
	Suspended() bool
}

// Server wires HTTP handlers to the broadcaster, signer, and stores.
type Server struct {
	router      chi.Router
	broadcaster *sse.Broadcaster
	cache       *report.UnknownImageCache
	signer      storage.URLSigner
	exams       store.ExamRepository
	poller      PollerControl
	cfg         config.Config
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes. exams and poller
// may be nil; their endpoints degrade to 503.
func NewServer(
	broadcaster *sse.Broadcaster,
	cache *report.UnknownImageCache,
	signer storage.URLSigner,
	exams store.ExamRepository,
	poller PollerControl,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		broadcaster: broadcaster,
		cache:       cache,
		signer:      signer,
		exams:       exams,
		poller:      poller,
		cfg:         cfg,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The event stream stays outside the timeout group: http.TimeoutHandler
	// buffers the response and would break flushing.
	r.Get("/api/storage/sse/connect", s.connectStream)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(60 * time.Second))

		r.Route("/api/storage", func(r chi.Router) {
			r.Get("/active-processes", s.listActiveProcesses)
			r.Get("/progress/{examCode}", s.getProgress)
			r.Delete("/progress/{examCode}", s.deleteProgress)
			r.Post("/presigned-urls", s.createUploadURLs)
			r.Get("/attendance/{examCode}/download-url", s.attendanceDownloadURL)
			r.Post("/attendance/{examCode}/upload-url", s.attendanceUploadURL)
		})

		r.Get("/api/reports/unknown-images/{examCode}", s.listUnknownImages)
		r.Post("/api/feedback", s.submitFeedback)

		r.Route("/api/exams", func(r chi.Router) {
			r.Post("/", s.createExam)
			r.Get("/", s.listExams)
			r.Get("/{examCode}", s.getExam)
			r.Delete("/{examCode}", s.deleteExam)
		})

		r.Post("/api/admin/poller/reset", s.resetPoller)
		r.Get("/api/admin/poller", s.pollerStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.poller != nil && s.poller.Suspended() {
		writeError(w, http.StatusServiceUnavailable, "queue polling suspended")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) resetPoller(w http.ResponseWriter, _ *http.Request) {
	if s.poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}
	s.poller.ResetBreaker()
	writeJSON(w, http.StatusOK, map[string]any{"suspended": s.poller.Suspended()})
}

func (s *Server) pollerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suspended": s.poller.Suspended()})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
