// Package opencv implements the capture transport on top of gocv/FFmpeg.
package opencv

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"kepler-multicam-go/internal/models"
	"kepler-multicam-go/internal/services/streamcapture"
)

var ffmpegOnce sync.Once

// Capture reads one RTSP or file source and produces RGBA frames at the
// canonical output size.
type Capture struct {
	address string
	width   int
	height  int

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	img    gocv.Mat
	closed bool

	// finite sources report a frame count, streams report 0
	frameCount int
	read       int
}

// NewFactory returns a transport factory producing frames of width x height
func NewFactory(width, height int) streamcapture.Factory {
	return func(address string) streamcapture.Transport {
		return &Capture{address: address, width: width, height: height}
	}
}

func (c *Capture) Connect(ctx context.Context) error {
	ffmpegOnce.Do(configureFFmpegOptions)

	if err := ctx.Err(); err != nil {
		return err
	}

	vc, err := gocv.OpenVideoCaptureWithAPI(c.address, gocv.VideoCaptureFFmpeg)
	if err != nil {
		return fmt.Errorf("failed to open stream %s: %w", c.address, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("video capture is not opened for %s", c.address)
	}

	// Buffer settings for low latency
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		vc.Close()
		return streamcapture.ErrClosed
	}
	c.cap = vc
	c.img = gocv.NewMat()
	if !strings.HasPrefix(c.address, "rtsp://") {
		c.frameCount = int(vc.Get(gocv.VideoCaptureFrameCount))
	}

	log.Info().
		Str("address", c.address).
		Float64("actual_fps", vc.Get(gocv.VideoCaptureFPS)).
		Float64("actual_width", vc.Get(gocv.VideoCaptureFrameWidth)).
		Float64("actual_height", vc.Get(gocv.VideoCaptureFrameHeight)).
		Int("frame_count", c.frameCount).
		Msg("VideoCapture opened successfully with actual properties")
	return nil
}

// ReadFrame holds the mutex for the duration of the decode so Close waits
// for it instead of freeing the capture underneath.
func (c *Capture) ReadFrame(ctx context.Context) (models.Image, error) {
	if err := ctx.Err(); err != nil {
		return models.Image{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.cap == nil {
		return models.Image{}, streamcapture.ErrClosed
	}

	if ok := c.cap.Read(&c.img); !ok || c.img.Empty() {
		if c.frameCount > 0 && c.read >= c.frameCount {
			return models.Image{}, io.EOF
		}
		return models.Image{}, fmt.Errorf("failed to read frame from %s", c.address)
	}
	c.read++

	resized := gocv.NewMat()
	defer resized.Close()
	if c.img.Cols() != c.width || c.img.Rows() != c.height {
		gocv.Resize(c.img, &resized, image.Pt(c.width, c.height), 0, 0, gocv.InterpolationLinear)
	} else {
		c.img.CopyTo(&resized)
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(resized, &rgba, gocv.ColorBGRToRGBA)

	return models.Image{Data: rgba.ToBytes(), Width: c.width, Height: c.height}, nil
}

func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.cap != nil {
		c.img.Close()
		return c.cap.Close()
	}
	return nil
}

// configureFFmpegOptions sets FFmpeg options via the environment variable the
// OpenCV FFmpeg backend reads
func configureFFmpegOptions() {
	if os.Getenv("OPENCV_FFMPEG_CAPTURE_OPTIONS") != "" {
		return
	}

	ffmpegOptions := map[string]string{
		"rtsp_transport":      "tcp",     // Use TCP for more reliable connection
		"buffer_size":         "2097152", // 2MB buffer
		"max_delay":           "500000",  // 0.5s max delay
		"stimeout":            "5000000", // 5s timeout
		"rw_timeout":          "5000000", // 5s read/write timeout
		"flags":               "low_delay",
		"fflags":              "nobuffer+flush_packets",
		"analyzeduration":     "500000",
		"probesize":           "2000000",
		"allowed_media_types": "video",
	}

	opts := make([]string, 0, len(ffmpegOptions))
	for key, value := range ffmpegOptions {
		opts = append(opts, key+";"+value)
	}
	sort.Strings(opts)
	ffmpegOptsStr := strings.Join(opts, "|")

	os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", ffmpegOptsStr)

	log.Info().
		Str("ffmpeg_options", ffmpegOptsStr).
		Msg("FFmpeg options configured for OpenCV")
}
