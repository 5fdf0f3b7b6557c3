package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/api"
	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/logging"
	"kepler-multicam-go/internal/models"
	"kepler-multicam-go/internal/services"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	console := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = log.Output(console)

	// Load configuration
	cfg := config.Load()

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogdyEnabled {
		writer, _, err := logging.StartLogdy(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Logdy unavailable, continuing with console logging")
		} else {
			log.Logger = log.Output(zerolog.MultiLevelWriter(console, writer))
		}
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Worker failed")
		os.Exit(1)
	}
	log.Info().Msg("Worker stopped")
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info().
		Str("worker_id", cfg.WorkerID).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Int("sources", len(cfg.CameraAddresses)).
		Msg("Starting Kepler multi-camera worker")

	container, err := services.NewServiceContainer(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg, api.Dependencies{
		Registry: container.Registry,
		Pipeline: container.Pipeline,
		Frames:   container.Frames,
		Viewers:  container.Hub,
	})
	if err := server.Setup(); err != nil {
		_ = container.Shutdown(context.Background())
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	eventsCtx, stopEvents := context.WithCancel(context.Background())
	defer stopEvents()
	go logEvents(eventsCtx, container.Pipeline.Events())

	if err := container.Pipeline.Play(); err != nil {
		_ = container.Shutdown(context.Background())
		return err
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("API server failed")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := container.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Service shutdown failed")
	} else {
		log.Info().Msg("Service shutdown complete")
	}

	return runErr
}

// logEvents reports pipeline events. The pipeline keeps running on every
// event type.
func logEvents(ctx context.Context, events <-chan models.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Type {
			case models.EventEndOfStream:
				log.Info().Int("source_index", ev.SourceIndex).Msg("Source reached end of stream")
			case models.EventWarning:
				log.Warn().Err(ev.Err).Int("source_index", ev.SourceIndex).Msg(ev.Message)
			case models.EventFatalError:
				log.Error().Err(ev.Err).Int("source_index", ev.SourceIndex).Msg(ev.Message)
			}
		}
	}
}
