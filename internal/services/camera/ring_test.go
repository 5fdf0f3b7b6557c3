package camera

import (
	"sync"
	"testing"

	"kepler-multicam-go/internal/models"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 4; i++ {
		evicted := r.Push(i)
		if want := i == 4; evicted != want {
			t.Errorf("Push(%d) evicted = %v, want %v", i, evicted, want)
		}
	}

	got := r.Snapshot()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("snapshot[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if last, ok := r.Last(); !ok || last != 4 {
		t.Errorf("Last() = %d, %v, want 4, true", last, ok)
	}
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	r := NewRing[int](60)
	for i := 0; i < 1000; i++ {
		r.Push(i)
		if r.Len() > r.Cap() {
			t.Fatalf("len %d exceeds capacity %d", r.Len(), r.Cap())
		}
	}
	if s := r.Snapshot(); s[0] != 940 || s[59] != 999 {
		t.Errorf("window = [%d..%d], want [940..999]", s[0], s[59])
	}
}

func TestRingSnapshotIsCopy(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	s := r.Snapshot()
	s[0] = 42
	if got := r.Snapshot()[0]; got != 1 {
		t.Errorf("ring mutated through snapshot: got %d", got)
	}
}

func TestBuffersTripleStaysAligned(t *testing.T) {
	b := NewBuffers(Capacities{Frames: 5, Counts: 3, Positions: 3})

	for seq := int64(0); seq < 10; seq++ {
		pos := make([]models.Rectangle, seq%4)
		b.Push(&models.AnnotatedFrame{Seq: seq}, len(pos), pos)

		s := b.Snapshot()
		n := int(seq + 1)
		if want := min(n, 5); len(s.Frames) != want {
			t.Fatalf("after %d pushes frames = %d, want %d", n, len(s.Frames), want)
		}
		if want := min(n, 3); len(s.Counts) != want || len(s.Positions) != want {
			t.Fatalf("after %d pushes counts/positions = %d/%d, want %d", n, len(s.Counts), len(s.Positions), want)
		}
		last := len(s.Counts) - 1
		if s.Frames[len(s.Frames)-1].Seq != seq || s.Counts[last] != len(s.Positions[last]) {
			t.Fatalf("newest entries do not belong to the same push")
		}
	}
	if b.Pushes() != 10 {
		t.Errorf("Pushes() = %d, want 10", b.Pushes())
	}
}

func TestBuffersConcurrentReaders(t *testing.T) {
	b := NewBuffers(DefaultCapacities)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s := b.Snapshot()
				if len(s.Counts) != len(s.Positions) {
					t.Errorf("torn read: counts %d positions %d", len(s.Counts), len(s.Positions))
					return
				}
				for j := range s.Counts {
					if s.Counts[j] != len(s.Positions[j]) {
						t.Errorf("torn read at %d", j)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		pos := make([]models.Rectangle, i%7)
		b.Push(&models.AnnotatedFrame{Seq: int64(i)}, len(pos), pos)
	}
	close(done)
	wg.Wait()
}
