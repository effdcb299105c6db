// Package api exposes the render pipeline over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/engine"
	"github.com/ivlev/deck2video/internal/history"
	"github.com/ivlev/deck2video/internal/logging"
	"github.com/ivlev/deck2video/internal/raster"
	"github.com/ivlev/deck2video/internal/video"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Config    *config.Config
	Encoder   video.VideoEncoder
	Fonts     *raster.FontCache
	History   history.Repository
	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Config.Listen,
			Handler:      NewRouter(cfg),
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: logging.OrDiscard(cfg.Logger),
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// renderer runs one deck at a time; a VideoProject is not reentrant.
type renderer struct {
	mu      sync.Mutex
	project *engine.VideoProject
}

func newRenderer(cfg ServerConfig) *renderer {
	return &renderer{project: engine.NewVideoProject(cfg.Config, cfg.Encoder, cfg.Fonts, cfg.Logger)}
}
