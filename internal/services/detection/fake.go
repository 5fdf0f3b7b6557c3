package detection

import (
	"context"
	"sync"
	"time"

	"kepler-multicam-go/internal/models"
)

// FakeDetector returns scripted detections per source slot
type FakeDetector struct {
	mu         sync.Mutex
	detections map[int][]models.Detection
	err        error
	delay      time.Duration
	calls      int
	batchSizes []int
}

func NewFakeDetector() *FakeDetector {
	return &FakeDetector{detections: map[int][]models.Detection{}}
}

// SetDetections scripts what every frame of a slot yields
func (f *FakeDetector) SetDetections(slot int, dets []models.Detection) {
	f.mu.Lock()
	f.detections[slot] = dets
	f.mu.Unlock()
}

// SetError makes every following Infer fail
func (f *FakeDetector) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FakeDetector) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

func (f *FakeDetector) Infer(ctx context.Context, batch models.Batch) ([]models.FrameResult, error) {
	f.mu.Lock()
	f.calls++
	f.batchSizes = append(f.batchSizes, batch.Len())
	err, delay := f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.FrameResult, len(batch.Frames))
	for i, fr := range batch.Frames {
		out[i] = models.FrameResult{
			SourceIndex: fr.SourceIndex,
			Seq:         fr.Seq,
			Detections:  append([]models.Detection(nil), f.detections[fr.SourceIndex]...),
		}
	}
	return out, nil
}

func (f *FakeDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeDetector) BatchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batchSizes...)
}

func (f *FakeDetector) Close() error { return nil }
