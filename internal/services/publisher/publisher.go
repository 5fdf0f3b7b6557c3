package publisher

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/models"
)

// ErrNoFrame is returned when a source has not published any frame yet
var ErrNoFrame = errors.New("no frame published yet")

// Encoder turns display frames into JPEG
type Encoder interface {
	Encode(frame *models.AnnotatedFrame) ([]byte, error)
	Placeholder(text string) ([]byte, error)
}

// FrameSource resolves the newest annotated frame of a source slot
type FrameSource interface {
	LatestFrame(index int) (*models.AnnotatedFrame, bool)
}

type encodedFrame struct {
	seq  int64
	jpeg []byte
}

// Publisher serves annotated frames as JPEG snapshots and MJPEG streams.
// Frames are only encoded when somebody is watching.
type Publisher struct {
	encoder Encoder
	frames  FrameSource

	jpegMutex  sync.RWMutex
	latestJPEG map[int]encodedFrame

	notifyMutex sync.RWMutex
	viewers     map[int]map[chan struct{}]struct{}
}

func NewPublisher(encoder Encoder, frames FrameSource) *Publisher {
	return &Publisher{
		encoder:    encoder,
		frames:     frames,
		latestJPEG: make(map[int]encodedFrame),
		viewers:    make(map[int]map[chan struct{}]struct{}),
	}
}

// OnSummary is a pipeline result hook
func (p *Publisher) OnSummary(s models.FrameSummary) {
	if !p.hasViewers(s.SourceIndex) {
		return
	}
	if _, err := p.JPEG(s.SourceIndex); err != nil {
		log.Debug().Err(err).Int("source_index", s.SourceIndex).Msg("Failed to encode frame for viewers")
		return
	}
	p.notifyStreamers(s.SourceIndex)
}

// JPEG returns the newest frame of a source, encoding it if the cached copy
// is stale
func (p *Publisher) JPEG(index int) ([]byte, error) {
	frame, ok := p.frames.LatestFrame(index)
	if !ok {
		return nil, ErrNoFrame
	}

	p.jpegMutex.RLock()
	cached, ok := p.latestJPEG[index]
	p.jpegMutex.RUnlock()
	if ok && cached.seq == frame.Seq {
		return cached.jpeg, nil
	}

	buf, err := p.encoder.Encode(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	p.jpegMutex.Lock()
	p.latestJPEG[index] = encodedFrame{seq: frame.Seq, jpeg: buf}
	p.jpegMutex.Unlock()
	return buf, nil
}

func (p *Publisher) hasViewers(index int) bool {
	p.notifyMutex.RLock()
	defer p.notifyMutex.RUnlock()
	return len(p.viewers[index]) > 0
}

func (p *Publisher) notifyStreamers(index int) {
	p.notifyMutex.RLock()
	defer p.notifyMutex.RUnlock()
	for notify := range p.viewers[index] {
		select {
		case notify <- struct{}{}:
		default:
		}
	}
}

func (p *Publisher) addViewer(index int) chan struct{} {
	p.notifyMutex.Lock()
	defer p.notifyMutex.Unlock()

	if p.viewers[index] == nil {
		p.viewers[index] = make(map[chan struct{}]struct{})
	}
	notify := make(chan struct{}, 1)
	p.viewers[index][notify] = struct{}{}
	return notify
}

func (p *Publisher) removeViewer(index int, notify chan struct{}) {
	p.notifyMutex.Lock()
	defer p.notifyMutex.Unlock()

	delete(p.viewers[index], notify)
	if len(p.viewers[index]) == 0 {
		delete(p.viewers, index)
	}
}

// ViewerCount returns the number of open MJPEG streams
func (p *Publisher) ViewerCount() int {
	p.notifyMutex.RLock()
	defer p.notifyMutex.RUnlock()
	n := 0
	for _, v := range p.viewers {
		n += len(v)
	}
	return n
}

func (p *Publisher) StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request, index int) {
	boundary := "frame"
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	notify := p.addViewer(index)
	defer p.removeViewer(index, notify)

	writePart := func(jpeg []byte) bool {
		if _, err := io.WriteString(w, "--"+boundary+"\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "Content-Type: image/jpeg\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(jpeg))); err != nil {
			return false
		}
		if _, err := w.Write(jpeg); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	first, err := p.JPEG(index)
	if err != nil {
		first, err = p.encoder.Placeholder(fmt.Sprintf("Source %d: waiting for frames", index))
	}
	if err == nil && len(first) > 0 {
		if !writePart(first) {
			return
		}
	}

	keepaliveTicker := time.NewTicker(2 * time.Second)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
		case <-keepaliveTicker.C:
		}

		buf, err := p.JPEG(index)
		if err != nil || len(buf) == 0 {
			continue
		}
		if !writePart(buf) {
			return
		}
	}
}
