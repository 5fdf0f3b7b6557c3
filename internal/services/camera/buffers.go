package camera

import (
	"sync"

	"kepler-multicam-go/internal/models"
)

// Capacities of the three per-source queues
type Capacities struct {
	Frames    int
	Counts    int
	Positions int
}

// DefaultCapacities matches the viewer window: 100 frames, 60 counts, 60 position records
var DefaultCapacities = Capacities{Frames: 100, Counts: 60, Positions: 60}

// Buffers holds the frame, count and position queues of one source.
// A single lock covers all three so a push is observed as a whole triple.
type Buffers struct {
	mu        sync.RWMutex
	frames    *Ring[*models.AnnotatedFrame]
	counts    *Ring[int]
	positions *Ring[[]models.Rectangle]
	pushes    int64
}

// Snapshot is a consistent view of all three queues taken under one read lock
type Snapshot struct {
	Frames    []*models.AnnotatedFrame
	Counts    []int
	Positions [][]models.Rectangle
	Pushes    int64
}

func NewBuffers(c Capacities) *Buffers {
	return &Buffers{
		frames:    NewRing[*models.AnnotatedFrame](c.Frames),
		counts:    NewRing[int](c.Counts),
		positions: NewRing[[]models.Rectangle](c.Positions),
	}
}

// Push records one processed frame. The pipeline is the only writer.
func (b *Buffers) Push(frame *models.AnnotatedFrame, count int, positions []models.Rectangle) {
	b.mu.Lock()
	b.frames.Push(frame)
	b.counts.Push(count)
	b.positions.Push(positions)
	b.pushes++
	b.mu.Unlock()
}

func (b *Buffers) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Frames:    b.frames.Snapshot(),
		Counts:    b.counts.Snapshot(),
		Positions: b.positions.Snapshot(),
		Pushes:    b.pushes,
	}
}

func (b *Buffers) Frames() []*models.AnnotatedFrame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frames.Snapshot()
}

func (b *Buffers) Counts() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts.Snapshot()
}

func (b *Buffers) Positions() [][]models.Rectangle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.positions.Snapshot()
}

// Latest returns the newest triple, if any
func (b *Buffers) Latest() (*models.AnnotatedFrame, int, []models.Rectangle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	frame, ok := b.frames.Last()
	if !ok {
		return nil, 0, nil, false
	}
	count, _ := b.counts.Last()
	positions, _ := b.positions.Last()
	return frame, count, positions, true
}

// Pushes returns how many triples were written over the lifetime of the source
func (b *Buffers) Pushes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pushes
}
