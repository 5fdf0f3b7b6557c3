package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"kepler-multicam-go/internal/api/handlers"
	"kepler-multicam-go/internal/config"
	"kepler-multicam-go/internal/services/camera"
)

// Dependencies are the services the HTTP surface reads from
type Dependencies struct {
	Registry *camera.Registry
	Pipeline handlers.Controller
	Frames   handlers.FrameStreamer
	Viewers  handlers.DetectionStreamer
}

type Server struct {
	config *config.Config
	router *gin.Engine
	server *http.Server

	// cancelled on Stop so long-lived streams end before Shutdown waits on them
	baseCtx    context.Context
	cancelBase context.CancelFunc

	healthHandler   *handlers.HealthHandler
	sourceHandler   *handlers.SourceHandler
	pipelineHandler *handlers.PipelineHandler
	systemHandler   *handlers.SystemHandler
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	return &Server{
		config:          cfg,
		router:          router,
		healthHandler:   handlers.NewHealthHandler(cfg.WorkerID, cfg.Version, deps.Pipeline),
		sourceHandler:   handlers.NewSourceHandler(deps.Registry, deps.Pipeline, deps.Frames, deps.Viewers),
		pipelineHandler: handlers.NewPipelineHandler(deps.Pipeline),
		systemHandler:   handlers.NewSystemHandler(cfg.WorkerID, deps.Pipeline, deps.Viewers),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()

	s.setupRoutes()

	s.setupSwagger()

	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	return nil
}

func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("Starting worker API")
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping worker API")
	s.cancelBase()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}
