package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"kepler-multicam-go/internal/logging"
)

type PipelineHandler struct {
	pipeline Controller
}

func NewPipelineHandler(pipeline Controller) *PipelineHandler {
	return &PipelineHandler{pipeline: pipeline}
}

// Play starts the pipeline
// @Summary Start the pipeline
// @Description Start ingestion, batching and inference for all sources. No-op when already playing.
// @Tags pipeline
// @Produce json
// @Success 200 {object} SuccessResponse
// @Failure 500 {object} ErrorResponse
// @Router /pipeline/play [post]
func (h *PipelineHandler) Play(c *gin.Context) {
	if err := h.pipeline.Play(); err != nil {
		logging.Error(c).Err(err).Msg("Failed to start pipeline")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	logging.Info(c).Msg("Pipeline play requested")
	c.JSON(http.StatusOK, SuccessResponse{Message: "Pipeline playing"})
}

// Stop stops the pipeline
// @Summary Stop the pipeline
// @Description Stop all sources and wait for in-flight work to finish. No-op when already stopped.
// @Tags pipeline
// @Produce json
// @Success 200 {object} SuccessResponse
// @Router /pipeline/stop [post]
func (h *PipelineHandler) Stop(c *gin.Context) {
	h.pipeline.Stop()
	logging.Info(c).Msg("Pipeline stop requested")
	c.JSON(http.StatusOK, SuccessResponse{Message: "Pipeline stopped"})
}

// Status returns pipeline statistics
// @Summary Pipeline status
// @Tags pipeline
// @Produce json
// @Success 200 {object} pipeline.Stats
// @Router /pipeline/status [get]
func (h *PipelineHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.Stats())
}
