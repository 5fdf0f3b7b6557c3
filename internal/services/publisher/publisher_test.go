package publisher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"kepler-multicam-go/internal/models"
)

type fakeEncoder struct {
	mu    sync.Mutex
	calls int
}

func (e *fakeEncoder) Encode(f *models.AnnotatedFrame) ([]byte, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return []byte(fmt.Sprintf("jpeg-%d-%d", f.SourceIndex, f.Seq)), nil
}

func (e *fakeEncoder) Placeholder(text string) ([]byte, error) {
	return []byte("placeholder"), nil
}

func (e *fakeEncoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeFrames struct {
	mu     sync.Mutex
	frames map[int]*models.AnnotatedFrame
}

func (f *fakeFrames) LatestFrame(index int) (*models.AnnotatedFrame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.frames[index]
	return fr, ok
}

func (f *fakeFrames) set(index int, seq int64) {
	f.mu.Lock()
	f.frames[index] = &models.AnnotatedFrame{SourceIndex: index, Seq: seq}
	f.mu.Unlock()
}

func TestJPEGCachesBySeq(t *testing.T) {
	enc := &fakeEncoder{}
	frames := &fakeFrames{frames: map[int]*models.AnnotatedFrame{}}
	p := NewPublisher(enc, frames)

	if _, err := p.JPEG(0); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("JPEG without frames = %v, want ErrNoFrame", err)
	}

	frames.set(0, 1)
	for i := 0; i < 3; i++ {
		b, err := p.JPEG(0)
		if err != nil || string(b) != "jpeg-0-1" {
			t.Fatalf("JPEG = %q, %v", b, err)
		}
	}
	if enc.Calls() != 1 {
		t.Errorf("encoded %d times, want 1", enc.Calls())
	}

	frames.set(0, 2)
	if b, _ := p.JPEG(0); string(b) != "jpeg-0-2" {
		t.Errorf("stale JPEG %q after new frame", b)
	}
}

func TestOnSummarySkipsWithoutViewers(t *testing.T) {
	enc := &fakeEncoder{}
	frames := &fakeFrames{frames: map[int]*models.AnnotatedFrame{}}
	frames.set(0, 1)
	p := NewPublisher(enc, frames)

	p.OnSummary(models.FrameSummary{SourceIndex: 0, Seq: 1})
	if enc.Calls() != 0 {
		t.Errorf("encoded a frame nobody watches")
	}
}

func TestStreamMJPEG(t *testing.T) {
	enc := &fakeEncoder{}
	frames := &fakeFrames{frames: map[int]*models.AnnotatedFrame{}}
	p := NewPublisher(enc, frames)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.StreamMJPEGHTTP(w, r, 1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	body := bufio.NewReader(resp.Body)
	readPayload := func() string {
		for {
			line, err := body.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if line == "\r\n" {
				payload, _ := body.ReadString('\n')
				return strings.TrimSuffix(payload, "\r\n")
			}
		}
	}

	if got := readPayload(); got != "placeholder" {
		t.Fatalf("first part = %q, want placeholder", got)
	}

	for p.ViewerCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	frames.set(1, 7)
	p.OnSummary(models.FrameSummary{SourceIndex: 1, Seq: 7})

	if got := readPayload(); got != "jpeg-1-7" {
		t.Errorf("second part = %q, want jpeg-1-7", got)
	}
}
