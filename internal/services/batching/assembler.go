package batching

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/models"
)

// Assembler groups frames from all sources into batches of at most one frame
// per source. A batch is released once every live source has contributed or
// the batch timeout has passed since its first frame, whichever comes first.
type Assembler struct {
	mu      sync.Mutex
	queues  [][]*models.RawFrame
	live    []bool
	dropped []int64
	perSlot int
	timeout time.Duration
	nextID  int64
	batches int64

	signal chan struct{}
}

// Stats is a point-in-time view of the assembler
type Stats struct {
	Batches int64   `json:"batches"`
	Queued  []int   `json:"queued"`
	Dropped []int64 `json:"dropped"`
}

// NewAssembler creates an assembler for n slots. maxInFlight bounds the raw
// frames queued across all slots; each slot keeps at least one.
func NewAssembler(n, maxInFlight int, timeout time.Duration) *Assembler {
	perSlot := 1
	if n > 0 && maxInFlight/n > 1 {
		perSlot = maxInFlight / n
	}
	return &Assembler{
		queues:  make([][]*models.RawFrame, n),
		live:    make([]bool, n),
		dropped: make([]int64, n),
		perSlot: perSlot,
		timeout: timeout,
		signal:  make(chan struct{}, 1),
	}
}

// Push queues a frame for its slot, dropping the oldest queued frame of that
// slot when the slot is full.
func (a *Assembler) Push(f *models.RawFrame) {
	a.mu.Lock()
	slot := f.SourceIndex
	if slot < 0 || slot >= len(a.queues) {
		a.mu.Unlock()
		log.Warn().Int("source_index", slot).Msg("Dropping frame for unknown slot")
		return
	}

	q := a.queues[slot]
	if len(q) >= a.perSlot {
		q[0] = nil
		q = q[1:]
		a.dropped[slot]++
		log.Debug().Int("source_index", slot).Int64("seq", f.Seq).Msg("Dropped oldest frame - slot queue full")
	}
	a.queues[slot] = append(q, f)
	a.mu.Unlock()

	a.notify()
}

// SetLive marks whether a slot is expected to contribute to the next batch
func (a *Assembler) SetLive(slot int, live bool) {
	a.mu.Lock()
	if slot < 0 || slot >= len(a.live) {
		a.mu.Unlock()
		return
	}
	a.live[slot] = live
	a.mu.Unlock()

	a.notify()
}

// Next blocks until a batch is ready or ctx is done. Once ctx is done it
// returns no further batches, even with frames still queued.
func (a *Assembler) Next(ctx context.Context) (models.Batch, error) {
	if err := ctx.Err(); err != nil {
		return models.Batch{}, err
	}

	// Wait for the first frame of the batch
	for {
		a.mu.Lock()
		pending := a.pendingLocked()
		a.mu.Unlock()
		if pending {
			break
		}
		select {
		case <-ctx.Done():
			return models.Batch{}, ctx.Err()
		case <-a.signal:
		}
	}

	deadline := time.NewTimer(a.timeout)
	defer deadline.Stop()

	for {
		a.mu.Lock()
		if a.completeLocked() {
			break
		}
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Batch{}, ctx.Err()
		case <-a.signal:
			continue
		case <-deadline.C:
		}
		a.mu.Lock()
		break
	}
	defer a.mu.Unlock()

	frames := make([]*models.RawFrame, 0, len(a.queues))
	for slot, q := range a.queues {
		if len(q) == 0 {
			continue
		}
		frames = append(frames, q[0])
		q[0] = nil
		a.queues[slot] = q[1:]
	}

	batch := models.Batch{ID: a.nextID, Frames: frames, CreatedAt: time.Now()}
	a.nextID++
	a.batches++

	// wake the next call if frames remain queued
	if a.pendingLocked() {
		select {
		case a.signal <- struct{}{}:
		default:
		}
	}
	return batch, nil
}

// Drain discards every queued frame and returns how many were removed
func (a *Assembler) Drain() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for slot, q := range a.queues {
		n += len(q)
		a.queues[slot] = nil
	}
	return n
}

func (a *Assembler) pendingLocked() bool {
	for _, q := range a.queues {
		if len(q) > 0 {
			return true
		}
	}
	return false
}

// completeLocked reports whether every live slot has a frame queued
func (a *Assembler) completeLocked() bool {
	for slot, q := range a.queues {
		if len(q) == 0 && a.live[slot] {
			return false
		}
	}
	return true
}

func (a *Assembler) notify() {
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

// Slots returns the number of sources the assembler batches
func (a *Assembler) Slots() int {
	return len(a.queues)
}

func (a *Assembler) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{
		Batches: a.batches,
		Queued:  make([]int, len(a.queues)),
		Dropped: make([]int64, len(a.dropped)),
	}
	for i, q := range a.queues {
		s.Queued[i] = len(q)
	}
	copy(s.Dropped, a.dropped)
	return s
}

// DroppedTotal returns frames discarded across all slots
func (a *Assembler) DroppedTotal() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, d := range a.dropped {
		total += d
	}
	return total
}
