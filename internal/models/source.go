package models

import "time"

// SourceResponse for API
type SourceResponse struct {
	Index        int       `json:"index"`
	InternalID   int64     `json:"internal_id"`
	Address      string    `json:"address"`
	CreatedAt    time.Time `json:"created_at"`
	Live         bool      `json:"live"`
	FramesStored int       `json:"frames_stored"`
	LastSeq      int64     `json:"last_seq"`
	LastCount    int       `json:"last_count"`
}

// FrameSummary is the per-frame detection summary broadcast to subscribers
type FrameSummary struct {
	SourceIndex int         `json:"source_index"`
	Seq         int64       `json:"seq"`
	Count       int         `json:"count"`
	Positions   []Rectangle `json:"positions"`
	Timestamp   time.Time   `json:"timestamp"`
}
