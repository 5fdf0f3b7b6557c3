package models

import (
	"time"
)

// Pixel layouts carried by frames
const (
	FormatRGBA = "RGBA" // canonical layout produced by ingestion
	FormatBGRA = "BGRA" // display layout published to consumers
)

// RawFrame is one decoded frame tagged with the batch slot of its source
type RawFrame struct {
	SourceIndex int
	Seq         int64
	Data        []byte
	Width       int
	Height      int
	Format      string
	Timestamp   time.Time
}

// Image is an untagged decoded picture as returned by a transport
type Image struct {
	Data   []byte
	Width  int
	Height int
}

// AnnotatedFrame is a display-ready frame with detections burned into the pixels
type AnnotatedFrame struct {
	SourceIndex int
	Seq         int64
	Data        []byte
	Width       int
	Height      int
	Format      string
	Timestamp   time.Time
}

// Batch groups at most one frame per source for a single inference pass.
// Frames are ordered by SourceIndex.
type Batch struct {
	ID        int64
	Frames    []*RawFrame
	CreatedAt time.Time
}

// Len returns the number of frames in the batch
func (b Batch) Len() int {
	return len(b.Frames)
}

// Slots returns the source indices present in the batch, in batch order
func (b Batch) Slots() []int {
	slots := make([]int, len(b.Frames))
	for i, f := range b.Frames {
		slots[i] = f.SourceIndex
	}
	return slots
}
