package frameprocessing

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"kepler-multicam-go/internal/models"
)

const outlineThickness = 3

// The frame buffer is BGRA but is wrapped as image.RGBA, so this literal
// lands in memory as B=224 G=235 R=221.
var accentColor = color.RGBA{R: 224, G: 235, B: 221, A: 255}

// 102/255 of white over the frame leaves 60% of the original pixel
var highlightMask = image.NewUniform(color.Alpha{A: 102})

// Annotator filters detections and burns inset rectangles into frames
type Annotator struct {
	classOfInterest int
	countAll        bool
}

func NewAnnotator(classOfInterest int, countAll bool) *Annotator {
	return &Annotator{classOfInterest: classOfInterest, countAll: countAll}
}

// Annotation is the outcome of annotating one frame
type Annotation struct {
	Frame     *models.AnnotatedFrame
	Count     int
	Positions []models.Rectangle
	Faults    []*models.AnnotationFault
}

// InsetRect shrinks a detection box horizontally by 5% of its width
// (10% for boxes up to 100px wide)
func InsetRect(b models.Box) models.Rectangle {
	left, top := int(b.Left), int(b.Top)
	width, height := int(b.Width), int(b.Height)

	var margin int
	if width > 100 {
		margin = int(float64(width) * 0.05)
	} else {
		margin = int(float64(width) * 0.1)
	}

	return models.Rectangle{
		X1: left + margin,
		Y1: top,
		X2: left + width - margin,
		Y2: top + height,
	}
}

// Annotate converts the raw frame to BGRA on a private copy and draws every
// detection of the class of interest. Rectangles that are degenerate or fall
// outside the frame are skipped and reported as faults.
func (a *Annotator) Annotate(raw *models.RawFrame, detections []models.Detection) Annotation {
	pix := toBGRA(raw)
	img := &image.RGBA{
		Pix:    pix,
		Stride: raw.Width * 4,
		Rect:   image.Rect(0, 0, raw.Width, raw.Height),
	}

	out := Annotation{
		Frame: &models.AnnotatedFrame{
			SourceIndex: raw.SourceIndex,
			Seq:         raw.Seq,
			Data:        pix,
			Width:       raw.Width,
			Height:      raw.Height,
			Format:      models.FormatBGRA,
			Timestamp:   raw.Timestamp,
		},
		Positions: []models.Rectangle{},
	}

	for _, det := range detections {
		if a.countAll {
			out.Count++
		}
		if det.ClassID != a.classOfInterest {
			continue
		}

		rect := InsetRect(det.Box)
		if reason := checkRect(rect, img.Rect); reason != "" {
			out.Faults = append(out.Faults, &models.AnnotationFault{
				SourceIndex: raw.SourceIndex,
				Seq:         raw.Seq,
				Rect:        rect,
				Reason:      reason,
			})
			continue
		}

		outline(img, rect.ImageRect())
		highlight(img, rect.ImageRect())
		out.Positions = append(out.Positions, rect)
	}
	if !a.countAll {
		out.Count = len(out.Positions)
	}
	return out
}

func checkRect(r models.Rectangle, bounds image.Rectangle) string {
	if r.Empty() {
		return "degenerate rectangle"
	}
	if !r.ImageRect().In(bounds) {
		return fmt.Sprintf("outside frame %dx%d", bounds.Dx(), bounds.Dy())
	}
	return ""
}

// highlight blends 40% white into r
func highlight(img *image.RGBA, r image.Rectangle) {
	draw.DrawMask(img, r, image.White, image.Point{}, highlightMask, image.Point{}, draw.Over)
}

// outline paints a border of outlineThickness pixels centred on the lines
// through r.Min and r.Max, clipped to the frame. The highlight drawn
// afterwards lightens the part of the border inside r.
func outline(img *image.RGBA, r image.Rectangle) {
	src := image.NewUniform(accentColor)
	half := outlineThickness / 2
	x1, y1, x2, y2 := r.Min.X, r.Min.Y, r.Max.X, r.Max.Y
	edges := []image.Rectangle{
		image.Rect(x1-half, y1-half, x2+half+1, y1+half+1),
		image.Rect(x1-half, y2-half, x2+half+1, y2+half+1),
		image.Rect(x1-half, y1-half, x1+half+1, y2+half+1),
		image.Rect(x2-half, y1-half, x2+half+1, y2+half+1),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Rect), src, image.Point{}, draw.Src)
	}
}

// toBGRA returns a copy of the frame pixels in BGRA order
func toBGRA(raw *models.RawFrame) []byte {
	pix := make([]byte, len(raw.Data))
	copy(pix, raw.Data)
	if raw.Format == models.FormatBGRA {
		return pix
	}
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
	return pix
}
