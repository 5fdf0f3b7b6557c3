package handlers

import (
	"net/http"

	"kepler-multicam-go/internal/services/pipeline"
)

type ErrorResponse struct {
	Error string `json:"error" example:"source not found"`
}

type SuccessResponse struct {
	Message string `json:"message" example:"Pipeline playing"`
}

// Controller is the lifecycle surface of the pipeline
type Controller interface {
	Play() error
	Stop()
	State() pipeline.State
	Stats() pipeline.Stats
	Live(index int) bool
}

// FrameStreamer serves annotated frames as images
type FrameStreamer interface {
	JPEG(index int) ([]byte, error)
	StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request, index int)
}

// DetectionStreamer pushes live detections to WebSocket viewers
type DetectionStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, sourceIndex int)
	ClientCount() int
}
