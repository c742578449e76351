package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"voice-calendar-pipeline/internal/usecase"
)

// WorkerControl is what the operator surface needs from the worker pool.
type WorkerControl interface {
	Pause()
	Resume()
	Paused() bool
}

// Server is the operator API: dead-letter management, queue inspection and
// worker control. It is not user-facing; everything except /health and
// /metrics sits behind the bearer key.
type Server struct {
	statsUC      usecase.StatsUseCase
	dlqUC        usecase.DeadLetterUseCase
	workers      WorkerControl
	dlqRetention time.Duration
	apiKey       string
	log          *zerolog.Logger

	srv *http.Server
}

func NewServer(
	statsUC usecase.StatsUseCase,
	dlqUC usecase.DeadLetterUseCase,
	workers WorkerControl,
	dlqRetention time.Duration,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		statsUC:      statsUC,
		dlqUC:        dlqUC,
		workers:      workers,
		dlqRetention: dlqRetention,
		apiKey:       apiKey,
		log:          logger,
	}
}

// RegisterRoutes mounts all operator endpoints on the router.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/dlq", s.handleDLQList)
		r.Post("/dlq/purge", s.handleDLQPurge)
		r.Post("/dlq/{id}/requeue", s.handleDLQRequeue)
		r.Delete("/dlq/{id}", s.handleDLQDelete)

		r.Get("/queue/depths", s.handleQueueDepths)
		r.Get("/jobs/{id}", s.handleJobGet)

		r.Post("/workers/pause", s.handleWorkersPause)
		r.Post("/workers/resume", s.handleWorkersResume)
	})
}

// Start serves on the given port until Shutdown.
func (s *Server) Start(port int) error {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("operator api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// authMiddleware gates the operator endpoints with a static bearer key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("operator api key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
