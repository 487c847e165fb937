package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	diaghttp "github.com/GriffinCanCode/ContentStudio/realtime/internal/api/http"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/api/middleware"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/config"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/tracing"
)

// Server is the local diagnostics HTTP server.
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *zap.Logger
	config  config.DiagnosticsConfig
	metrics *monitoring.Metrics
}

// New builds the router and middleware stack around status.
func New(cfg config.DiagnosticsConfig, status diaghttp.Status, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(logger))
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowOrigins = cfg.AllowOrigins
	router.Use(middleware.CORS(corsCfg))

	if cfg.GlobalRequestsPerSecond > 0 {
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.GlobalRequestsPerSecond,
			Burst:             cfg.GlobalRequestsPerSecond,
		}))
	}
	if cfg.RequestsPerSecond > 0 {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RequestsPerSecond),
			zap.Int("burst", cfg.Burst),
			zap.Int("global_rps", cfg.GlobalRequestsPerSecond),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             max(cfg.Burst, 1),
		}))
	}

	diaghttp.NewHandlers(status, metrics, logger).Register(router)

	return &Server{
		router:  router,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. A shutdown is not reported as an
// error.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting diagnostics server", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down diagnostics server...")
	return s.http.Shutdown(ctx)
}
