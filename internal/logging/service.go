package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/config"
)

func NewServiceLogger(cfg *config.Config, service string) zerolog.Logger {
	return log.With().Str("worker_id", cfg.WorkerID).Str("service", service).Logger()
}

func WithSource(base zerolog.Logger, sourceIndex int) zerolog.Logger {
	return base.With().Int("source_index", sourceIndex).Logger()
}
