package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/services/camera"
	"kepler-multicam-go/internal/services/detection"
	"kepler-multicam-go/internal/services/messaging"
	"kepler-multicam-go/internal/services/pipeline"
	"kepler-multicam-go/internal/services/publisher"
	"kepler-multicam-go/internal/services/publisher/mjpeg"
	"kepler-multicam-go/internal/services/streamcapture/opencv"
	"kepler-multicam-go/internal/ws"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config    *config.Config
	Registry  *camera.Registry
	Detector  *detection.GRPCDetector
	Pipeline  *pipeline.Pipeline
	Hub       *ws.DetectionHub
	Frames    *publisher.Publisher
	Messaging *messaging.Service // nil when NATS is disabled or unreachable
}

// NewServiceContainer builds every service and subscribes the consumers to
// the pipeline. The pipeline is left stopped.
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	registry, err := camera.NewRegistryFromAddresses(cfg.CameraAddresses, camera.Capacities{
		Frames:    cfg.FrameBufferSize,
		Counts:    cfg.CountBufferSize,
		Positions: cfg.PositionBufferSize,
	})
	if err != nil {
		return nil, err
	}

	detCfg, err := detection.LoadConfig(cfg.DetectorConfigPath)
	if err != nil {
		return nil, err
	}
	if err := detCfg.ApplySources(registry.Len(), cfg.AIGRPCURL); err != nil {
		return nil, err
	}
	if cfg.AITimeout > 0 {
		detCfg.Timeout = cfg.AITimeout
	}

	detector, err := detection.NewGRPCDetector(detCfg)
	if err != nil {
		return nil, err
	}

	healthCtx, cancel := context.WithTimeout(context.Background(), detCfg.Timeout)
	if err := detector.HealthCheck(healthCtx); err != nil {
		log.Warn().Err(err).Str("endpoint", detCfg.Endpoint).Msg("Detector not ready yet, batches will fail until it is")
	}
	cancel()

	sc := &ServiceContainer{
		Config:   cfg,
		Registry: registry,
		Detector: detector,
		Pipeline: pipeline.New(cfg, registry, opencv.NewFactory(cfg.OutputWidth, cfg.OutputHeight), detector),
		Hub:      ws.NewDetectionHub(),
		Frames:   publisher.NewPublisher(mjpeg.NewEncoder(cfg.JPEGQuality), registry),
	}

	sc.Pipeline.OnResult(sc.Hub.BroadcastSummary)
	sc.Pipeline.OnResult(sc.Frames.OnSummary)
	sc.Pipeline.OnEvent(sc.Hub.BroadcastEvent)

	if cfg.NatsEnabled {
		natsSvc, err := messaging.NewService(cfg)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NatsURL).Msg("NATS unavailable, results will not be broadcast")
		} else {
			sc.Messaging = natsSvc
			sc.Pipeline.OnResult(natsSvc.PublishSummary)
			sc.Pipeline.OnEvent(natsSvc.PublishEvent)
		}
	}

	return sc, nil
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	if sc.Pipeline != nil {
		if err := sc.Pipeline.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Pipeline consumers did not drain before the deadline")
		}
	}

	if sc.Messaging != nil {
		if err := sc.Messaging.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("NATS shutdown failed")
		}
	}

	if sc.Detector != nil {
		if err := sc.Detector.Close(); err != nil {
			return err
		}
	}

	return nil
}
