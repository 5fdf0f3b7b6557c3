// Package mjpeg encodes annotated frames to JPEG with OpenCV.
package mjpeg

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"kepler-multicam-go/internal/models"
)

// Encoder implements publisher.Encoder on top of gocv
type Encoder struct {
	quality int
}

func NewEncoder(quality int) *Encoder {
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	return &Encoder{quality: quality}
}

func (e *Encoder) Encode(frame *models.AnnotatedFrame) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC4, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mat from frame data: %w", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	code := gocv.ColorBGRAToBGR
	if frame.Format == models.FormatRGBA {
		code = gocv.ColorRGBAToBGR
	}
	gocv.CvtColor(mat, &bgr, code)

	return e.encode(bgr)
}

// Placeholder renders a grey card with a status line
func (e *Encoder) Placeholder(text string) ([]byte, error) {
	placeholder := gocv.NewMatWithSize(360, 640, gocv.MatTypeCV8UC3)
	defer placeholder.Close()

	placeholder.SetTo(gocv.Scalar{Val1: 64, Val2: 64, Val3: 64, Val4: 0})

	textColor := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.PutText(&placeholder, text, image.Pt(20, 180), gocv.FontHersheySimplex, 0.8, textColor, 2)

	return e.encode(placeholder)
}

func (e *Encoder) encode(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, e.quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	defer buf.Close()

	b := buf.GetBytes()
	jpegCopy := make([]byte, len(b))
	copy(jpegCopy, b)
	return jpegCopy, nil
}
