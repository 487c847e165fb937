package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/devserver"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/config"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/tracing"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file (env vars override)")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	token := flag.String("token", "", "Require this bearer token on upgrade")
	serverIDs := flag.Bool("server-ids", false, "Assign server-side stream ids")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.DevServer.Addr = *addr
	}

	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development || *dev)
	defer logger.Sync()

	if !cfg.Logging.Development && !*dev {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := devserver.New(devserver.Options{
		Steps:     cfg.DevServer.Steps,
		Interval:  cfg.DevServer.Interval.Std(),
		Token:     *token,
		ServerIDs: *serverIDs,
		Logger:    logger.Component("devserver"),
	})

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(logger.Component("http")))
	srv.Register(router, "/ws")
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": srv.Sessions()})
	})

	httpServer := &http.Server{
		Addr:              cfg.DevServer.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting development stream server", zap.String("addr", cfg.DevServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutting down gracefully...")
		srv.DropAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Error during shutdown", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("Server error", zap.Error(err))
	}
}
