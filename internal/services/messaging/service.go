package messaging

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/models"
)

// Service publishes frame summaries and pipeline events over NATS
type Service struct {
	conn *nats.Conn
	cfg  *config.Config

	published atomic.Int64
	failed    atomic.Int64
}

// EventMessage is the wire form of a pipeline event
type EventMessage struct {
	WorkerID    string    `json:"worker_id"`
	Type        string    `json:"type"`
	SourceIndex int       `json:"source_index"`
	Message     string    `json:"message"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SummaryMessage is the wire form of a per-frame detection summary
type SummaryMessage struct {
	WorkerID string `json:"worker_id"`
	models.FrameSummary
}

func NewService(cfg *config.Config) (*Service, error) {
	opts := []nats.Option{
		nats.Name("kepler-multicam-" + cfg.WorkerID),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, err
	}

	log.Info().Str("url", cfg.NatsURL).Msg("NATS connection established")

	return &Service{
		conn: conn,
		cfg:  cfg,
	}, nil
}

func (s *Service) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return s.conn.Publish(subject, payload)
}

// PublishSummary is a pipeline result hook. Failures are counted, never returned.
func (s *Service) PublishSummary(summary models.FrameSummary) {
	s.publishCounted(s.cfg.ResultsSubject, SummaryMessage{WorkerID: s.cfg.WorkerID, FrameSummary: summary})
}

// PublishEvent is a pipeline event hook
func (s *Service) PublishEvent(ev models.Event) {
	msg := EventMessage{
		WorkerID:    s.cfg.WorkerID,
		Type:        ev.Type.String(),
		SourceIndex: ev.SourceIndex,
		Message:     ev.Message,
		Timestamp:   ev.Timestamp,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	s.publishCounted(s.cfg.EventsSubject, msg)
}

func (s *Service) publishCounted(subject string, data interface{}) {
	if err := s.Publish(subject, data); err != nil {
		if n := s.failed.Add(1); n <= 5 || n%100 == 0 {
			log.Warn().Err(err).Str("subject", subject).Int64("failed", n).Msg("Failed to publish to NATS")
		}
		return
	}
	s.published.Add(1)
}

func (s *Service) Subscribe(subject string, handler func([]byte)) (*nats.Subscription, error) {
	return s.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

func (s *Service) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Counts returns published and failed message counts
func (s *Service) Counts() (published, failed int64) {
	return s.published.Load(), s.failed.Load()
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.conn != nil {
		// Try graceful drain with timeout, fallback to immediate close
		if err := s.conn.Drain(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
			s.conn.Close()
		}
	}
	return nil
}
