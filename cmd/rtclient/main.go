package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/config"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/protocol"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/realtime"
	"github.com/GriffinCanCode/ContentStudio/realtime/internal/server"
	rterrors "github.com/GriffinCanCode/ContentStudio/realtime/internal/shared/errors"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file (env vars override)")
	url := flag.String("url", "", "Endpoint URL (overrides config)")
	kind := flag.String("kind", protocol.KindScriptGeneration, "Stream kind to start; empty starts none")
	params := flag.String("params", `{"topic":"AI","platform":"youtube","duration":60}`, "Stream params as JSON")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *url != "" {
		cfg.Realtime.URL = *url
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	if err := run(cfg, logger, *kind, json.RawMessage(*params)); err != nil {
		logger.Error("Client failed", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func run(cfg *config.Config, logger *logging.Logger, kind string, params json.RawMessage) error {
	if len(params) > 0 && !json.Valid(params) {
		return errors.New("params is not valid JSON")
	}

	metrics := monitoring.NewMetrics()
	client := realtime.NewFromConfig(cfg, logger.Logger, metrics)

	log := logger.Component("cli")
	done := make(chan struct{}, 1)

	sub, err := client.Subscribe(realtime.Callbacks{
		OnMessage: func(env protocol.Envelope) {
			log.Info("Envelope",
				zap.String("type", env.Type),
				zap.String("stream_id", env.StreamID),
				zap.ByteString("payload", env.Payload))
			if env.Type == protocol.TypeStreamStopped {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		},
		OnConnect: func() {
			log.Info("Connected", zap.String("url", cfg.Realtime.URL))
		},
		OnDisconnect: func(err error) {
			log.Warn("Disconnected", zap.Error(err))
		},
		OnError: func(err error) {
			log.Warn("Error", zap.Error(err))
		},
	})
	if err != nil {
		return err
	}

	var diag *server.Server
	if cfg.Diagnostics.Enabled {
		diag = server.New(cfg.Diagnostics, client, metrics, logger.Component("diagnostics"))
		go func() {
			if err := diag.Run(); err != nil {
				log.Error("Diagnostics server failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Realtime.HandshakeTimeout.Std()+cfg.Auth.Timeout.Std())
	err = client.Connect(dialCtx)
	cancel()
	if err != nil {
		// Retries continue in the background
		log.Warn("Initial connect failed", zap.Error(err))
	}

	if kind != "" {
		go startWhenConnected(ctx, client, sub, kind, params, log)
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case <-done:
		log.Info("Stream finished")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if diag != nil {
		if err := diag.Shutdown(shutdownCtx); err != nil {
			log.Warn("Diagnostics shutdown failed", zap.Error(err))
		}
	}
	return client.Shutdown()
}

// startWhenConnected starts one stream as soon as the connection is open.
func startWhenConnected(ctx context.Context, client *realtime.Client, sub *realtime.Subscription, kind string, params json.RawMessage, log *zap.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if client.IsConnected() {
			id, err := sub.StartStream(kind, params)
			if err == nil {
				log.Info("Stream requested", zap.String("stream_id", id), zap.String("kind", kind))
				return
			}
			if !rterrors.IsNotConnected(err) {
				log.Error("Stream start failed", zap.Error(err))
				return
			}
		}
		if rterrors.IsTerminal(client.Err()) {
			log.Error("Giving up", zap.Error(client.Err()))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
