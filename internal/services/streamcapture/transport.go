package streamcapture

import (
	"context"
	"errors"

	"kepler-multicam-go/internal/models"
)

// ErrClosed is returned by ReadFrame after Close
var ErrClosed = errors.New("transport closed")

// Transport decodes one source address into canonical RGBA images.
//
// ReadFrame returns io.EOF when a finite source is exhausted. Close must
// unblock a ReadFrame in progress.
type Transport interface {
	Connect(ctx context.Context) error
	ReadFrame(ctx context.Context) (models.Image, error)
	Close() error
}

// Factory opens a fresh transport for an address on every (re)connect
type Factory func(address string) Transport

// FrameSink receives tagged frames from ingestion
type FrameSink interface {
	Push(frame *models.RawFrame)
	SetLive(slot int, live bool)
}
