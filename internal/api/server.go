package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ramp/internal/batch"
	"ramp/internal/logging"
	"ramp/internal/queue"
	"ramp/internal/status"
)

// Server exposes the ingestion and status HTTP API.
type Server struct {
	store       *queue.Store
	coordinator *batch.Coordinator
	status      *status.Service
	logger      *slog.Logger
	defaultLang string

	httpServer *http.Server
}

// Options configures the HTTP server.
type Options struct {
	Bind            string
	DefaultLanguage string
}

// NewServer constructs the HTTP API server.
func NewServer(store *queue.Store, coordinator *batch.Coordinator, statusSvc *status.Service, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		store:       store,
		coordinator: coordinator,
		status:      statusSvc,
		logger:      logger,
		defaultLang: opts.DefaultLanguage,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.logRequests)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/content", func(r chi.Router) {
			r.Post("/ingest", s.handleContentIngest)
			r.Get("/status/{id}", s.handleContentStatus)
			r.Post("/{id}/cancel", s.handleContentCancel)
			r.Post("/{id}/review/resolve", s.handleReviewResolve)
		})

		r.Route("/archives", func(r chi.Router) {
			r.Post("/ingest", s.handleArchiveIngest)
			r.Get("/status/{id}", s.handleArchiveStatus)
			r.Post("/{id}/cancel", s.handleArchiveCancel)
		})
	})

	s.httpServer = &http.Server{
		Addr:              opts.Bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving requests until the listener fails or
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("api listening",
		logging.String(logging.FieldComponent, "api"),
		logging.String("bind", listener.Addr().String()),
	)
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("request handled",
			logging.String(logging.FieldComponent, "api"),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", wrapped.Status()),
			logging.Duration("duration", time.Since(start)),
		)
	})
}
