package models

import "image"

// Box is a detector bounding box in pixel coordinates
type Box struct {
	Top    float32 `json:"top"`
	Left   float32 `json:"left"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Detection is one object reported by the inference stage for one frame
type Detection struct {
	ClassID    int     `json:"class_id"`
	Confidence float32 `json:"confidence,omitempty"`
	Box        Box     `json:"box"`
}

// FrameResult is one result row of a batched inference call
type FrameResult struct {
	SourceIndex int         `json:"source_index"`
	Seq         int64       `json:"seq"`
	Detections  []Detection `json:"detections"`
}

// Rectangle is a drawn inset rectangle given by its corners
type Rectangle struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// ImageRect converts to an image.Rectangle
func (r Rectangle) ImageRect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// Empty reports whether the rectangle has no area
func (r Rectangle) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}
