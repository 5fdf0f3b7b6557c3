package streamcapture

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"kepler-multicam-go/internal/models"
)

// ErrFakeRead is the read failure injected by FakeSource
var ErrFakeRead = errors.New("fake read failure")

// ErrConnectRefused is the connect failure injected by FakeSource
var ErrConnectRefused = errors.New("connection refused")

// FakeSource scripts transports for tests and demo runs
type FakeSource struct {
	Width    int
	Height   int
	Fill     byte
	Frames   int           // frames per session before io.EOF, 0 streams forever
	FailAt   int           // frames per session before ErrFakeRead, 0 never fails
	Interval time.Duration // delay between frames
	Block    bool          // ReadFrame blocks until the transport is closed

	ConnectFailures int // initial connects that are refused

	mu       sync.Mutex
	connects int
	closes   int
}

// Factory returns a transport factory bound to this script
func (f *FakeSource) Factory() Factory {
	return func(string) Transport {
		return &fakeTransport{src: f, closed: make(chan struct{})}
	}
}

func (f *FakeSource) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *FakeSource) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeTransport struct {
	src    *FakeSource
	closed chan struct{}
	once   sync.Once
	sent   int
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.src.mu.Lock()
	defer t.src.mu.Unlock()
	t.src.connects++
	if t.src.connects <= t.src.ConnectFailures {
		return ErrConnectRefused
	}
	return ctx.Err()
}

func (t *fakeTransport) ReadFrame(ctx context.Context) (models.Image, error) {
	if t.src.Block {
		select {
		case <-ctx.Done():
			return models.Image{}, ctx.Err()
		case <-t.closed:
			return models.Image{}, ErrClosed
		}
	}

	if t.src.Interval > 0 {
		timer := time.NewTimer(t.src.Interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return models.Image{}, ctx.Err()
		case <-t.closed:
			return models.Image{}, ErrClosed
		case <-timer.C:
		}
	}

	select {
	case <-t.closed:
		return models.Image{}, ErrClosed
	default:
	}

	if t.src.FailAt > 0 && t.sent >= t.src.FailAt {
		return models.Image{}, ErrFakeRead
	}
	if t.src.Frames > 0 && t.sent >= t.src.Frames {
		return models.Image{}, io.EOF
	}
	t.sent++

	w, h := t.src.Width, t.src.Height
	if w == 0 || h == 0 {
		w, h = 16, 16
	}
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = t.src.Fill
	}
	return models.Image{Data: data, Width: w, Height: h}, nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.src.mu.Lock()
		t.src.closes++
		t.src.mu.Unlock()
	})
	return nil
}
