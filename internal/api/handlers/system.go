package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler handles system-related endpoints
type SystemHandler struct {
	WorkerID  string
	pipeline  Controller
	viewers   DetectionStreamer
	startedAt time.Time
}

func NewSystemHandler(workerID string, pipeline Controller, viewers DetectionStreamer) *SystemHandler {
	return &SystemHandler{
		WorkerID:  workerID,
		pipeline:  pipeline,
		viewers:   viewers,
		startedAt: time.Now(),
	}
}

// @Summary Get system stats
// @Description Get process and pipeline statistics
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats": gin.H{
			"worker_id":         h.WorkerID,
			"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
			"memory_mb":         m.Alloc / 1024 / 1024,
			"cpu_cores":         runtime.NumCPU(),
			"goroutines":        runtime.NumGoroutine(),
			"go_version":        runtime.Version(),
			"websocket_viewers": h.viewers.ClientCount(),
		},
		"pipeline":  h.pipeline.Stats(),
		"timestamp": time.Now().Unix(),
	})
}
