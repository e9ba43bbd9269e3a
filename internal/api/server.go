// Package api exposes the HTTP interface for the spider service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlkit/crawlkit/internal/crawl"
	"github.com/crawlkit/crawlkit/internal/store"
)

// Canceler stops a running request of one kind. The orchestrator variants
// implement it.
type Canceler interface {
	Stop(ctx context.Context, requestID uuid.UUID) error
}

// Config tunes the HTTP surface.
type Config struct {
	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration
	// StreamInterval is the status poll cadence of the SSE endpoint.
	StreamInterval time.Duration
	// APIKey enables key auth when non-empty.
	APIKey string
}

// Server wires HTTP handlers to the queue and stores.
type Server struct {
	router    chi.Router
	requests  crawl.RequestStore
	results   crawl.ResultStore
	stats     store.StatsRepository
	queue     crawl.Queue
	cancelers map[crawl.Kind]Canceler
	idGen     crawl.IDGenerator
	clock     crawl.Clock
	metrics   http.Handler
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The canceler
// table binds each request kind to the orchestrator that can stop it.
func NewServer(
	requests crawl.RequestStore,
	results crawl.ResultStore,
	stats store.StatsRepository,
	queue crawl.Queue,
	cancelers map[crawl.Kind]Canceler,
	idGen crawl.IDGenerator,
	clock crawl.Clock,
	metrics http.Handler,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		requests:  requests,
		results:   results,
		stats:     stats,
		queue:     queue,
		cancelers: cancelers,
		idGen:     idGen,
		clock:     clock,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if cfg.APIKey != "" {
		r.Use(apiKeyMiddleware(cfg.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/v1", func(r chi.Router) {
		// The stream endpoint is long-lived; everything else gets the
		// standard timeout.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Post("/crawl", s.submitKind(crawl.KindCrawl))
			r.Post("/sitemap", s.submitKind(crawl.KindSitemap))
			r.Post("/search-crawl", s.submitKind(crawl.KindSearch))
			r.Route("/requests/{request_id}", func(r chi.Router) {
				r.Get("/", s.getRequest)
				r.Post("/cancel", s.cancelRequest)
				r.Get("/results", s.getResults)
				r.Get("/sites", s.getSites)
			})
		})
		r.Get("/requests/{request_id}/stream", s.streamRequest)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The request store is the hard dependency; probe it with a throwaway ID.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.requests.GetRequest(ctx, uuid.Nil); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(s.logger, w, http.StatusServiceUnavailable, "request store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(s.logger, w, http.StatusNotFound, "metrics not configured")
		return
	}
	s.metrics.ServeHTTP(w, r)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
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
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
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
				writeJSON(zap.NewNop(), w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
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

// writeValidationError reports field-level problems without leaking internals.
func writeValidationError(logger *zap.Logger, w http.ResponseWriter, fields map[string]string) {
	writeJSON(logger, w, http.StatusBadRequest, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}
