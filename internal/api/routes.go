package api

import (
	"kepler-multicam-go/internal/api/middleware"
)

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestContext())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	sources := s.router.Group("/sources")
	{
		sources.GET("", s.sourceHandler.ListSources)
		sources.GET("/:index", s.sourceHandler.GetSource)
		sources.GET("/:index/counts", s.sourceHandler.GetCounts)
		sources.GET("/:index/positions", s.sourceHandler.GetPositions)
		sources.GET("/:index/frame.jpg", s.sourceHandler.GetFrame)
		sources.GET("/:index/mjpeg", s.sourceHandler.StreamMJPEG)
		sources.GET("/:index/ws", s.sourceHandler.StreamDetections)
	}

	pipeline := s.router.Group("/pipeline")
	{
		pipeline.POST("/play", s.pipelineHandler.Play)
		pipeline.POST("/stop", s.pipelineHandler.Stop)
		pipeline.GET("/status", s.pipelineHandler.Status)
	}

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}
}
