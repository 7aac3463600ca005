package api

import (
	"context"
	"net/http"
	"time"

	"example.com/backstage/eventsearch/config"
	"example.com/backstage/eventsearch/internal/api/handlers"
	"example.com/backstage/eventsearch/internal/api/middleware"
	"example.com/backstage/eventsearch/internal/metrics"
	"example.com/backstage/eventsearch/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Server represents the HTTP server
type Server struct {
	config       config.Config
	router       *gin.Engine
	httpServer   *http.Server
	eventService handlers.EventService
	metrics      *metrics.Metrics
	tracer       tracing.Tracer
	logger       zerolog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, eventService handlers.EventService, m *metrics.Metrics, tracer tracing.Tracer, logger zerolog.Logger) *Server {
	if tracer == nil {
		tracer = tracing.Noop()
	}
	server := &Server{
		config:       cfg,
		eventService: eventService,
		metrics:      m,
		tracer:       tracer,
		logger:       logger,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.router,
	}

	return server
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(s.logger))
	router.Use(middleware.NewRelicMiddleware(s.tracer.Application()))

	eventHandler := handlers.NewEventHandler(s.eventService, s.tracer, s.logger,
		s.config.Worker.BatchSize, s.config.Worker.Concurrency)
	eventHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	s.logger.Info().Msg("HTTP server shut down successfully")
	return nil
}
