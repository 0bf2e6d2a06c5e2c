// Package server exposes ingestion over HTTP.
//
//	POST /api-one-task   multipart "files" uploads, or a JSON body
//	POST /v1/ingest      same as /api-one-task
//	GET  /healthz        store reachability
//	GET  /ingestions     recent ingest_log records (?limit=N)
//	GET  /metrics        Prometheus exposition, when a handler is configured
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ingest/internal/ingest"
	"ingest/internal/parser"
)

// Options configures a Server.
type Options struct {
	// MaxUploadBytes caps a request body. Zero means 32 MiB.
	MaxUploadBytes int64

	// RateLimit enables per-client limiting when RequestsPerSecond > 0.
	RateLimit RateLimitConfig

	// Parser carries loader settings, including the JSON required keys.
	Parser parser.Options

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server routes HTTP requests to an ingest.Service.
type Server struct {
	svc  *ingest.Service
	opts Options
	log  *slog.Logger
}

// New returns a Server; call Handler to obtain the router.
func New(svc *ingest.Service, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{svc: svc, opts: opts, log: log}
}

// Handler builds the chi router with the middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	if s.opts.RateLimit.RequestsPerSecond > 0 {
		r.Use(RateLimiter(s.opts.RateLimit))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/ingestions", s.handleIngestions)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limitBody)
		r.Post("/api-one-task", s.handleIngest)
		r.Post("/v1/ingest", s.handleIngest)
	})
	return r
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
		next.ServeHTTP(w, r)
	})
}
