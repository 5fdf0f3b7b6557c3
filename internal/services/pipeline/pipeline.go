package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/logging"
	"kepler-multicam-go/internal/models"
	"kepler-multicam-go/internal/services/batching"
	"kepler-multicam-go/internal/services/camera"
	"kepler-multicam-go/internal/services/detection"
	"kepler-multicam-go/internal/services/frameprocessing"
	"kepler-multicam-go/internal/services/streamcapture"
)

// State of the pipeline
type State string

const (
	StateStopped State = "stopped"
	StatePlaying State = "playing"
)

// ResultHook observes published frame summaries. Each hook runs on its own
// goroutine; summaries it cannot keep up with are dropped.
type ResultHook func(models.FrameSummary)

// EventHook observes emitted events, including ones dropped from the events
// channel. Each hook runs on its own goroutine like a ResultHook.
type EventHook func(models.Event)

// Pipeline wires ingestion, batching, inference and demultiplexing for all
// registered sources
type Pipeline struct {
	cfg       *config.Config
	registry  *camera.Registry
	detector  detection.Detector
	assembler *batching.Assembler
	demux     *frameprocessing.Demultiplexer
	ingestors []*streamcapture.Ingestor
	logger    zerolog.Logger

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	// hooks have their own lock so emitters never wait on Stop
	hooksMu     sync.RWMutex
	hookBuffer  int
	hooksClosed bool
	resultSubs  []*subscriber[models.FrameSummary]
	eventSubs   []*subscriber[models.Event]

	events        chan models.Event
	eventsDropped atomic.Int64
	batches       atomic.Int64
	inferFailures atomic.Int64
	rowsDropped   atomic.Int64
}

// Stats is a point-in-time view of the pipeline
type Stats struct {
	State             State                       `json:"state"`
	Uptime            string                      `json:"uptime,omitempty"`
	Batches           int64                       `json:"batches"`
	InferenceFailures int64                       `json:"inference_failures"`
	RowsDropped       int64                       `json:"rows_dropped"`
	FramesDropped     int64                       `json:"frames_dropped"`
	EventsDropped     int64                       `json:"events_dropped"`
	HookDrops         int64                       `json:"hook_drops"`
	Queued            []int                       `json:"queued"`
	Sources           []streamcapture.IngestStats `json:"sources"`
}

// New builds a stopped pipeline over every source in the registry
func New(cfg *config.Config, registry *camera.Registry, factory streamcapture.Factory, detector detection.Detector) *Pipeline {
	sources := registry.All()
	eventBuffer := cfg.EventBufferSize
	if eventBuffer <= 0 {
		eventBuffer = 64
	}
	hookBuffer := cfg.HookBufferSize
	if hookBuffer <= 0 {
		hookBuffer = 256
	}

	p := &Pipeline{
		cfg:        cfg,
		registry:   registry,
		detector:   detector,
		assembler:  batching.NewAssembler(len(sources), cfg.MaxInFlight, cfg.BatchTimeout),
		demux:      frameprocessing.NewDemultiplexer(cfg, registry, frameprocessing.NewAnnotator(cfg.ClassOfInterest, cfg.CountAllClasses)),
		logger:     logging.NewServiceLogger(cfg, "pipeline"),
		state:      StateStopped,
		events:     make(chan models.Event, eventBuffer),
		hookBuffer: hookBuffer,
	}
	for _, src := range sources {
		p.ingestors = append(p.ingestors, streamcapture.NewIngestor(cfg, src, factory, p.assembler, p))
	}
	return p
}

// OnResult registers a hook called after each frame is published
func (p *Pipeline) OnResult(h ResultHook) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	if p.hooksClosed {
		p.logger.Warn().Msg("Result hook registered after Close, ignoring")
		return
	}
	p.resultSubs = append(p.resultSubs, newSubscriber[models.FrameSummary](h, p.hookBuffer, p.logger))
}

// OnEvent registers a hook called for every event
func (p *Pipeline) OnEvent(h EventHook) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	if p.hooksClosed {
		p.logger.Warn().Msg("Event hook registered after Close, ignoring")
		return
	}
	p.eventSubs = append(p.eventSubs, newSubscriber[models.Event](h, p.hookBuffer, p.logger))
}

// Close stops the pipeline and releases the hook goroutines once their queued
// values are delivered or ctx is done. The pipeline cannot be played again.
func (p *Pipeline) Close(ctx context.Context) error {
	p.Stop()

	p.hooksMu.Lock()
	if p.hooksClosed {
		p.hooksMu.Unlock()
		return nil
	}
	p.hooksClosed = true
	results, events := p.resultSubs, p.eventSubs
	p.hooksMu.Unlock()

	var firstErr error
	for _, s := range results {
		if err := s.close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, s := range events {
		if err := s.close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Play starts all ingestors and the batch loop. Calling it while playing is
// a no-op.
func (p *Pipeline) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StatePlaying {
		p.logger.Debug().Msg("Play called while already playing")
		return nil
	}
	if len(p.ingestors) == 0 {
		return &models.ConfigurationError{Field: "CAMERA_ADDRESSES", Reason: "no sources registered"}
	}
	p.hooksMu.RLock()
	closed := p.hooksClosed
	p.hooksMu.RUnlock()
	if closed {
		return &models.PipelineFault{Stage: "lifecycle", Err: errors.New("pipeline is closed")}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.state = StatePlaying
	p.startedAt = time.Now()

	for _, ing := range p.ingestors {
		p.wg.Add(1)
		go func(ing *streamcapture.Ingestor) {
			defer p.wg.Done()
			ing.Run(ctx)
		}(ing)
	}

	p.wg.Add(1)
	go p.batchLoop(ctx)

	p.logger.Info().
		Int("sources", len(p.ingestors)).
		Dur("batch_timeout", p.cfg.BatchTimeout).
		Int("max_in_flight", p.cfg.MaxInFlight).
		Msg("Pipeline playing")
	return nil
}

// Stop cancels every goroutine, closes transports and waits until nothing
// writes to the source buffers any more. Calling it while stopped is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return
	}

	start := time.Now()
	p.cancel()
	p.wg.Wait()
	p.cancel = nil
	p.state = StateStopped

	discarded := p.assembler.Drain()
	p.logger.Info().
		Dur("stop_latency", time.Since(start)).
		Int("discarded_frames", discarded).
		Msg("Pipeline stopped")
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Events delivers EndOfStream, Warning and FatalError events. The channel is
// never closed.
func (p *Pipeline) Events() <-chan models.Event {
	return p.events
}

// Emit hands an event to the hooks and queues it on the events channel
// without blocking. Overflow is counted and logged.
func (p *Pipeline) Emit(ev models.Event) {
	p.hooksMu.RLock()
	if !p.hooksClosed {
		for _, s := range p.eventSubs {
			s.offer(ev)
		}
	}
	p.hooksMu.RUnlock()

	select {
	case p.events <- ev:
	default:
		dropped := p.eventsDropped.Add(1)
		p.logger.Warn().
			Str("type", ev.Type.String()).
			Int("source_index", ev.SourceIndex).
			Int64("events_dropped", dropped).
			Msg("Event channel full, dropping event")
	}
}

// publish hands a summary to every result hook without blocking
func (p *Pipeline) publish(s models.FrameSummary) {
	p.hooksMu.RLock()
	defer p.hooksMu.RUnlock()
	if p.hooksClosed {
		return
	}
	for _, sub := range p.resultSubs {
		if !sub.offer(s) {
			p.logger.Debug().
				Int("source_index", s.SourceIndex).
				Int64("seq", s.Seq).
				Msg("Result hook behind, dropping summary")
		}
	}
}

func (p *Pipeline) batchLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		batch, err := p.assembler.Next(ctx)
		if err != nil {
			return
		}
		p.processBatch(ctx, batch)
	}
}

// processBatch runs inference and demultiplexing for one batch. A panic is
// reported as a fatal event; the loop keeps running.
func (p *Pipeline) processBatch(ctx context.Context, batch models.Batch) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Int64("batch_id", batch.ID).Interface("panic", r).Msg("Recovered from panic while processing batch")
			p.Emit(models.NewEvent(models.EventFatalError, -1, "batch processing panicked",
				&models.PipelineFault{Stage: "batch", Err: fmt.Errorf("panic: %v", r)}))
		}
	}()

	results, err := p.detector.Infer(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.inferFailures.Add(1)
		fault := &models.PipelineFault{Stage: "inference", Err: err}
		p.logger.Warn().Err(err).Int64("batch_id", batch.ID).Int("frames", batch.Len()).Msg("Inference failed, dropping batch")
		p.Emit(models.NewEvent(models.EventWarning, -1, "inference failed", fault))
		return
	}

	matched, rows, faults := detection.MatchResults(batch, results)
	for _, fault := range faults {
		p.rowsDropped.Add(1)
		p.logger.Warn().Err(fault).Int64("batch_id", batch.ID).Msg("Dropping mismatched result row")
		p.Emit(models.NewEvent(models.EventWarning, -1, "malformed batch result", fault))
	}
	if len(rows) == 0 {
		return
	}

	summaries := p.demux.Process(matched, rows)
	p.batches.Add(1)

	for _, s := range summaries {
		p.publish(s)
	}
}

// Live reports whether the ingestor of a slot is currently connected
func (p *Pipeline) Live(index int) bool {
	if index < 0 || index >= len(p.ingestors) {
		return false
	}
	return p.ingestors[index].Stats().Live
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	state, startedAt := p.state, p.startedAt
	p.mu.Unlock()

	as := p.assembler.Stats()
	s := Stats{
		State:             state,
		Batches:           p.batches.Load(),
		InferenceFailures: p.inferFailures.Load(),
		RowsDropped:       p.rowsDropped.Load(),
		FramesDropped:     p.assembler.DroppedTotal(),
		EventsDropped:     p.eventsDropped.Load(),
		Queued:            as.Queued,
	}
	p.hooksMu.RLock()
	for _, sub := range p.resultSubs {
		s.HookDrops += sub.dropped.Load()
	}
	for _, sub := range p.eventSubs {
		s.HookDrops += sub.dropped.Load()
	}
	p.hooksMu.RUnlock()
	if state == StatePlaying {
		s.Uptime = time.Since(startedAt).Round(time.Second).String()
	}
	for _, ing := range p.ingestors {
		s.Sources = append(s.Sources, ing.Stats())
	}
	return s
}
