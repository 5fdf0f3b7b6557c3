package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kepler-multicam-go/internal/logging"
	"kepler-multicam-go/internal/models"
	"kepler-multicam-go/internal/services/camera"
	"kepler-multicam-go/internal/services/publisher"
)

type SourceHandler struct {
	registry *camera.Registry
	pipeline Controller
	frames   FrameStreamer
	viewers  DetectionStreamer
}

func NewSourceHandler(registry *camera.Registry, pipeline Controller, frames FrameStreamer, viewers DetectionStreamer) *SourceHandler {
	return &SourceHandler{
		registry: registry,
		pipeline: pipeline,
		frames:   frames,
		viewers:  viewers,
	}
}

type CountsResponse struct {
	SourceIndex int   `json:"source_index" example:"0"`
	Counts      []int `json:"counts"`
}

type PositionsResponse struct {
	SourceIndex int                  `json:"source_index" example:"0"`
	Positions   [][]models.Rectangle `json:"positions"`
}

// resolveSource parses the :index path parameter and writes the error
// response when it does not name a registered source
func (h *SourceHandler) resolveSource(c *gin.Context) (*camera.Source, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "index must be an integer"})
		return nil, false
	}
	src, ok := h.registry.Get(index)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "source not found"})
		return nil, false
	}
	return src, true
}

func (h *SourceHandler) describe(src *camera.Source) models.SourceResponse {
	snap := src.Buffers().Snapshot()
	resp := models.SourceResponse{
		Index:        src.Index,
		InternalID:   src.InternalID,
		Address:      src.Address,
		CreatedAt:    src.CreatedAt,
		Live:         h.pipeline.Live(src.Index),
		FramesStored: len(snap.Frames),
		LastSeq:      -1,
	}
	if n := len(snap.Frames); n > 0 {
		resp.LastSeq = snap.Frames[n-1].Seq
	}
	if n := len(snap.Counts); n > 0 {
		resp.LastCount = snap.Counts[n-1]
	}
	return resp
}

// ListSources lists all sources
// @Summary List sources
// @Description List configured sources in slot order
// @Tags sources
// @Produce json
// @Success 200 {array} models.SourceResponse
// @Router /sources [get]
func (h *SourceHandler) ListSources(c *gin.Context) {
	all := h.registry.All()
	out := make([]models.SourceResponse, 0, len(all))
	for _, src := range all {
		out = append(out, h.describe(src))
	}
	c.JSON(http.StatusOK, out)
}

// GetSource gets one source
// @Summary Get source details
// @Tags sources
// @Param index path int true "Source slot"
// @Produce json
// @Success 200 {object} models.SourceResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{index} [get]
func (h *SourceHandler) GetSource(c *gin.Context) {
	src, ok := h.resolveSource(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.describe(src))
}

// GetCounts returns the recent people counts of a source
// @Summary Recent counts
// @Description Per-frame counts, most recent last
// @Tags sources
// @Param index path int true "Source slot"
// @Produce json
// @Success 200 {object} CountsResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{index}/counts [get]
func (h *SourceHandler) GetCounts(c *gin.Context) {
	src, ok := h.resolveSource(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, CountsResponse{SourceIndex: src.Index, Counts: src.LatestCounts()})
}

// GetPositions returns the recent drawn rectangles of a source
// @Summary Recent positions
// @Description Per-frame inset rectangles, most recent last
// @Tags sources
// @Param index path int true "Source slot"
// @Produce json
// @Success 200 {object} PositionsResponse
// @Failure 404 {object} ErrorResponse
// @Router /sources/{index}/positions [get]
func (h *SourceHandler) GetPositions(c *gin.Context) {
	src, ok := h.resolveSource(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, PositionsResponse{SourceIndex: src.Index, Positions: src.LatestPositions()})
}

// GetFrame returns the newest annotated frame as JPEG
// @Summary Latest frame
// @Tags sources
// @Param index path int true "Source slot"
// @Produce jpeg
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /sources/{index}/frame.jpg [get]
func (h *SourceHandler) GetFrame(c *gin.Context) {
	src, ok := h.resolveSource(c)
	if !ok {
		return
	}
	jpeg, err := h.frames.JPEG(src.Index)
	if err != nil {
		if errors.Is(err, publisher.ErrNoFrame) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		logging.Error(c).Err(err).Int("source_index", src.Index).Msg("Failed to encode frame")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", jpeg)
}

// StreamMJPEG streams annotated frames
// @Summary MJPEG stream
// @Tags sources
// @Param index path int true "Source slot"
// @Produce multipart/x-mixed-replace
// @Router /sources/{index}/mjpeg [get]
func (h *SourceHandler) StreamMJPEG(c *gin.Context) {
	src, ok := h.resolveSource(c)
	if !ok {
		return
	}
	h.frames.StreamMJPEGHTTP(c.Writer, c.Request, src.Index)
}

// StreamDetections upgrades to a WebSocket carrying live detections
// @Summary Live detections
// @Tags sources
// @Param index path int true "Source slot"
// @Router /sources/{index}/ws [get]
func (h *SourceHandler) StreamDetections(c *gin.Context) {
	src, ok := h.resolveSource(c)
	if !ok {
		return
	}
	h.viewers.Serve(c.Writer, c.Request, src.Index)
}
