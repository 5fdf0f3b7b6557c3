package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/models"
	"kepler-multicam-go/internal/services/camera"
	"kepler-multicam-go/internal/services/detection"
	"kepler-multicam-go/internal/services/streamcapture"
)

func testConfig() *config.Config {
	return &config.Config{
		WorkerID:            "test",
		BatchTimeout:        20 * time.Millisecond,
		MaxInFlight:         35,
		ClassOfInterest:     0,
		ReconnectBackoffMin: time.Millisecond,
		ReconnectBackoffMax: 10 * time.Millisecond,
		EventBufferSize:     64,
	}
}

func testRegistry(t *testing.T, n int) *camera.Registry {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = "fake://cam"
	}
	reg, err := camera.NewRegistryFromAddresses(addrs, camera.DefaultCapacities)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopWithin(t *testing.T, p *Pipeline, limit time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(limit):
		t.Fatalf("Stop did not return within %v", limit)
	}
}

func TestPlayStopIdempotent(t *testing.T) {
	fake := &streamcapture.FakeSource{Interval: time.Millisecond}
	p := New(testConfig(), testRegistry(t, 2), fake.Factory(), detection.NewFakeDetector())

	if p.State() != StateStopped {
		t.Fatalf("initial state = %s", p.State())
	}
	for i := 0; i < 2; i++ {
		if err := p.Play(); err != nil {
			t.Fatalf("Play #%d: %v", i, err)
		}
	}
	if p.State() != StatePlaying {
		t.Errorf("state = %s, want playing", p.State())
	}
	waitFor(t, "both sources connected", func() bool { return fake.Connects() >= 2 })
	if fake.Connects() != 2 {
		t.Errorf("second Play started extra ingestors: %d connects", fake.Connects())
	}

	stopWithin(t, p, time.Second)
	stopWithin(t, p, time.Second)
	if p.State() != StateStopped {
		t.Errorf("state = %s, want stopped", p.State())
	}

	// restart after stop
	if err := p.Play(); err != nil {
		t.Fatalf("Play after Stop: %v", err)
	}
	stopWithin(t, p, time.Second)
}

func TestPlayWithoutSources(t *testing.T) {
	p := New(testConfig(), camera.NewRegistry(camera.DefaultCapacities), (&streamcapture.FakeSource{}).Factory(), detection.NewFakeDetector())
	var cfgErr *models.ConfigurationError
	if err := p.Play(); !errors.As(err, &cfgErr) {
		t.Errorf("Play error = %v, want ConfigurationError", err)
	}
}

func TestPipelineProcessesFiniteSources(t *testing.T) {
	reg := testRegistry(t, 3)
	fake := &streamcapture.FakeSource{Width: 64, Height: 48, Frames: 5, Interval: time.Millisecond}
	det := detection.NewFakeDetector()
	det.SetDetections(1, []models.Detection{
		{ClassID: 0, Box: models.Box{Top: 4, Left: 4, Width: 20, Height: 20}},
		{ClassID: 1, Box: models.Box{Top: 4, Left: 30, Width: 20, Height: 20}},
	})

	p := New(testConfig(), reg, fake.Factory(), det)

	var mu sync.Mutex
	var summaries []models.FrameSummary
	p.OnResult(func(s models.FrameSummary) {
		mu.Lock()
		summaries = append(summaries, s)
		mu.Unlock()
	})

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer p.Stop()

	eos := map[int]bool{}
	timeout := time.After(3 * time.Second)
	for len(eos) < 3 {
		select {
		case ev := <-p.Events():
			if ev.Type == models.EventEndOfStream {
				eos[ev.SourceIndex] = true
			}
		case <-timeout:
			t.Fatalf("end of stream events = %v, want all 3 sources", eos)
		}
	}

	waitFor(t, "every frame published", func() bool {
		for _, src := range reg.All() {
			if len(src.LatestFrames()) != 5 {
				return false
			}
		}
		return true
	})

	src1, _ := reg.Get(1)
	for _, c := range src1.LatestCounts() {
		if c != 1 {
			t.Errorf("source 1 count = %d, want 1", c)
		}
	}
	for _, src := range reg.All() {
		frames := src.LatestFrames()
		for i, f := range frames {
			if f.SourceIndex != src.Index || f.Seq != int64(i) || f.Format != models.FormatBGRA {
				t.Errorf("source %d frame %d = slot %d seq %d %s", src.Index, i, f.SourceIndex, f.Seq, f.Format)
			}
		}
	}
	for _, size := range det.BatchSizes() {
		if size < 1 || size > 3 {
			t.Errorf("batch of %d frames for 3 sources", size)
		}
	}

	waitFor(t, "a summary per frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(summaries) == 15
	})
}

func TestStopIsBoundedWithBlockedTransports(t *testing.T) {
	fake := &streamcapture.FakeSource{Block: true}
	p := New(testConfig(), testRegistry(t, 4), fake.Factory(), detection.NewFakeDetector())

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "all sources connected", func() bool { return fake.Connects() == 4 })

	stopWithin(t, p, time.Second)
	if fake.Closes() != fake.Connects() {
		t.Errorf("closed %d of %d transports", fake.Closes(), fake.Connects())
	}
}

func TestNoBufferWritesAfterStop(t *testing.T) {
	reg := testRegistry(t, 2)
	fake := &streamcapture.FakeSource{Width: 8, Height: 8, Interval: time.Millisecond}
	det := detection.NewFakeDetector()
	det.SetDelay(2 * time.Millisecond)
	p := New(testConfig(), reg, fake.Factory(), det)

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, "frames flowing", func() bool {
		src, _ := reg.Get(0)
		return src.Buffers().Pushes() > 5
	})
	stopWithin(t, p, time.Second)

	before := make([]int64, 0, 2)
	for _, src := range reg.All() {
		before = append(before, src.Buffers().Pushes())
	}
	time.Sleep(50 * time.Millisecond)
	for i, src := range reg.All() {
		if after := src.Buffers().Pushes(); after != before[i] {
			t.Errorf("source %d written after Stop: %d -> %d", i, before[i], after)
		}
	}
}

func TestInferenceFailureBecomesWarning(t *testing.T) {
	fake := &streamcapture.FakeSource{Width: 8, Height: 8, Interval: time.Millisecond}
	det := detection.NewFakeDetector()
	boom := errors.New("detector unavailable")
	det.SetError(boom)

	p := New(testConfig(), testRegistry(t, 1), fake.Factory(), det)
	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer p.Stop()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			if ev.Type != models.EventWarning {
				continue
			}
			var fault *models.PipelineFault
			if !errors.As(ev.Err, &fault) || !errors.Is(ev.Err, boom) {
				t.Fatalf("warning err = %v, want PipelineFault wrapping the detector error", ev.Err)
			}
			if p.State() != StatePlaying {
				t.Errorf("pipeline stopped itself after a warning")
			}
			return
		case <-timeout:
			t.Fatal("no warning for failed inference")
		}
	}
}

func TestEventOverflowIsCounted(t *testing.T) {
	cfg := testConfig()
	cfg.EventBufferSize = 1
	p := New(cfg, testRegistry(t, 1), (&streamcapture.FakeSource{}).Factory(), detection.NewFakeDetector())

	var hooked atomic.Int64
	p.OnEvent(func(models.Event) { hooked.Add(1) })
	for i := 0; i < 3; i++ {
		p.Emit(models.NewEvent(models.EventWarning, 0, "test", nil))
	}

	if got := p.Stats().EventsDropped; got != 2 {
		t.Errorf("EventsDropped = %d, want 2", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := hooked.Load(); got != 3 {
		t.Errorf("event hook saw %d events, want 3", got)
	}
}

// retagDetector answers like the fake detector but labels every row of one
// slot with another slot id
type retagDetector struct {
	*detection.FakeDetector
	from, to int
}

func (d *retagDetector) Infer(ctx context.Context, batch models.Batch) ([]models.FrameResult, error) {
	results, err := d.FakeDetector.Infer(ctx, batch)
	for i := range results {
		if results[i].SourceIndex == d.from {
			results[i].SourceIndex = d.to
		}
	}
	return results, err
}

func TestMismatchedRowOnlyDropsItsSource(t *testing.T) {
	reg := testRegistry(t, 3)
	fake := &streamcapture.FakeSource{Width: 8, Height: 8, Interval: time.Millisecond}
	det := &retagDetector{FakeDetector: detection.NewFakeDetector(), from: 1, to: 99}

	p := New(testConfig(), reg, fake.Factory(), det)
	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	defer p.Stop()

	src0, _ := reg.Get(0)
	src1, _ := reg.Get(1)
	src2, _ := reg.Get(2)
	waitFor(t, "sources 0 and 2 publishing", func() bool {
		return src0.Buffers().Pushes() >= 5 && src2.Buffers().Pushes() >= 5
	})
	if n := src1.Buffers().Pushes(); n != 0 {
		t.Errorf("source 1 received %d frames from mislabelled rows", n)
	}
	if p.Stats().RowsDropped == 0 {
		t.Error("RowsDropped = 0, want the mislabelled rows counted")
	}

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-p.Events():
			var fault *models.PipelineFault
			if ev.Type == models.EventWarning && errors.As(ev.Err, &fault) {
				return
			}
		case <-timeout:
			t.Fatal("no warning for the mislabelled row")
		}
	}
}

func TestSlowResultHookDoesNotStallOtherSources(t *testing.T) {
	cfg := testConfig()
	cfg.HookBufferSize = 4
	reg := testRegistry(t, 2)
	fake := &streamcapture.FakeSource{Width: 8, Height: 8, Interval: time.Millisecond}
	p := New(cfg, reg, fake.Factory(), detection.NewFakeDetector())

	p.OnResult(func(s models.FrameSummary) {
		if s.SourceIndex == 0 {
			time.Sleep(300 * time.Millisecond)
		}
	})

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}

	src1, _ := reg.Get(1)
	waitFor(t, "source 1 keeps publishing", func() bool {
		return src1.Buffers().Pushes() >= 50
	})
	if p.Stats().HookDrops == 0 {
		t.Error("HookDrops = 0, want summaries dropped for the slow hook")
	}

	stopWithin(t, p, time.Second)
}
