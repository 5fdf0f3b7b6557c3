package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/logging"
	"kepler-multicam-go/internal/models"
	"kepler-multicam-go/internal/services/camera"
)

// Ingestor owns the capture loop of one source. It connects, tags every
// decoded frame with the source slot and hands it to the batch assembler.
type Ingestor struct {
	source  *camera.Source
	factory Factory
	sink    FrameSink
	events  models.EventSink
	backoff Backoff
	logger  zerolog.Logger

	seq        atomic.Int64
	frames     atomic.Int64
	reconnects atomic.Int64
	live       atomic.Bool
}

// IngestStats is a point-in-time view of an ingestor
type IngestStats struct {
	SourceIndex int   `json:"source_index"`
	Live        bool  `json:"live"`
	Frames      int64 `json:"frames"`
	Reconnects  int64 `json:"reconnects"`
	LastSeq     int64 `json:"last_seq"`
}

func NewIngestor(cfg *config.Config, source *camera.Source, factory Factory, sink FrameSink, events models.EventSink) *Ingestor {
	ing := &Ingestor{
		source:  source,
		factory: factory,
		sink:    sink,
		events:  events,
		backoff: NewBackoff(cfg),
		logger:  logging.WithSource(logging.NewServiceLogger(cfg, "ingest"), source.Index),
	}
	ing.seq.Store(-1)
	return ing
}

// Run captures until ctx is cancelled or the source reaches end of stream.
// Failed sessions are retried with backoff.
func (i *Ingestor) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("source_index", i.source.Index).Interface("panic", r).Msg("Recovered from panic in ingest loop")
			i.emit(models.NewEvent(models.EventWarning, i.source.Index, "ingest loop panicked",
				&models.PipelineFault{Stage: "ingest", Err: fmt.Errorf("panic: %v", r)}))
		}
		i.setLive(false)
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		read, err := i.session(ctx)
		i.setLive(false)

		if ctx.Err() != nil {
			i.logger.Info().Msg("Stopping capture due to context cancel")
			return
		}

		if errors.Is(err, io.EOF) {
			i.logger.Info().Int64("frames", i.frames.Load()).Msg("Source reached end of stream")
			i.emit(models.NewEvent(models.EventEndOfStream, i.source.Index, "end of stream", nil))
			return
		}

		if read > 0 {
			attempt = 0
		}
		attempt++
		i.reconnects.Add(1)

		fault := &models.StreamFault{
			SourceIndex: i.source.Index,
			Address:     i.source.Address,
			Attempt:     attempt,
			Err:         err,
		}
		delay := i.backoff.Delay(attempt)

		i.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Stream session failed, reconnecting")
		i.emit(models.NewEvent(models.EventWarning, i.source.Index, "stream fault", fault))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session runs one connect/read cycle and reports how many frames it delivered
func (i *Ingestor) session(ctx context.Context) (int, error) {
	t := i.factory(i.source.Address)

	var closeOnce sync.Once
	closeTransport := func() {
		closeOnce.Do(func() {
			if err := t.Close(); err != nil {
				i.logger.Debug().Err(err).Msg("Error closing transport")
			}
		})
	}
	defer closeTransport()

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			closeTransport()
		case <-sessionDone:
		}
	}()

	if err := t.Connect(ctx); err != nil {
		return 0, fmt.Errorf("connect %s: %w", i.source.Address, err)
	}
	i.logger.Info().Str("address", i.source.Address).Msg("Source connected")
	i.setLive(true)

	read := 0
	for {
		img, err := t.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return read, io.EOF
			}
			return read, fmt.Errorf("read frame: %w", err)
		}
		if ctx.Err() != nil {
			return read, ctx.Err()
		}
		if len(img.Data) != img.Width*img.Height*4 {
			return read, fmt.Errorf("decoded frame has %d bytes for %dx%d RGBA", len(img.Data), img.Width, img.Height)
		}

		read++
		i.frames.Add(1)
		i.sink.Push(&models.RawFrame{
			SourceIndex: i.source.Index,
			Seq:         i.seq.Add(1),
			Data:        img.Data,
			Width:       img.Width,
			Height:      img.Height,
			Format:      models.FormatRGBA,
			Timestamp:   time.Now(),
		})
	}
}

func (i *Ingestor) setLive(live bool) {
	if i.live.Swap(live) != live {
		i.sink.SetLive(i.source.Index, live)
	}
}

func (i *Ingestor) emit(ev models.Event) {
	if i.events != nil {
		i.events.Emit(ev)
	}
}

func (i *Ingestor) Stats() IngestStats {
	return IngestStats{
		SourceIndex: i.source.Index,
		Live:        i.live.Load(),
		Frames:      i.frames.Load(),
		Reconnects:  i.reconnects.Load(),
		LastSeq:     i.seq.Load(),
	}
}

func (i *Ingestor) Source() *camera.Source { return i.source }
