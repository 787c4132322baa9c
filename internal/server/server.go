package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/kikiluvv/overlaycast/internal/overlay"
	"github.com/kikiluvv/overlaycast/internal/pipeline"
)

// ErrInvalidRequest is returned for requests rejected before any
// pipeline work starts
var ErrInvalidRequest = errors.New("invalid request")

// Streamer opens a pipeline session per viewer
type Streamer interface {
	Open(ctx context.Context, address string) (*pipeline.Session, error)
}

// Options configures the HTTP server
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	CORSOrigins       []string
	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer
}

// Server exposes the video feed and the overlay API
type Server struct {
	logger   zerolog.Logger
	opts     Options
	streamer Streamer
	store    overlay.Store
	handler  http.Handler
	http     *http.Server
}

// New creates a server and builds its routes
func New(logger zerolog.Logger, streamer Streamer, store overlay.Store, opts Options) *Server {
	s := &Server{
		logger:   logger.With().Str("component", "server").Logger(),
		opts:     opts,
		streamer: streamer,
		store:    store,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/video_feed", s.handleVideoFeed)
	r.Get("/healthz", s.handleHealth)
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/overlays", func(r chi.Router) {
		r.Get("/", s.handleListOverlays)
		r.Post("/", s.handleCreateOverlay)
		r.Get("/{id}", s.handleGetOverlay)
		r.Put("/{id}", s.handleUpdateOverlay)
		r.Delete("/{id}", s.handleDeleteOverlay)
	})

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is canceled, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, shutdownTimeout time.Duration) error {
	s.http = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
