package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ivlev/deck2video/internal/api"
	"github.com/ivlev/deck2video/internal/config"
	"github.com/ivlev/deck2video/internal/history"
	"github.com/ivlev/deck2video/internal/logging"
	"github.com/ivlev/deck2video/internal/raster"
	"github.com/ivlev/deck2video/internal/system"
	"github.com/ivlev/deck2video/internal/video"
)

// BuildVersion is set with -ldflags "-X main.BuildVersion=...".
var BuildVersion = "dev"

func main() {
	configPtr := flag.String("config", "", "YAML config file")
	listenPtr := flag.String("listen", "", "Listen address (default "+config.DefaultListen+")")
	historyPtr := flag.String("history", "", "sqlite file recording runs (default <output_dir>/history.db)")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *listenPtr != "" {
		cfg.Listen = *listenPtr
	}
	if *historyPtr != "" {
		cfg.HistoryDB = *historyPtr
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = filepath.Join(cfg.OutputDir, "history.db")
	}
	if cfg.VideoEncoder == config.DefaultVideoEncoder {
		cfg.VideoEncoder = system.GetBestH264Encoder()
	}
	cfg.BuildVersion = BuildVersion
	api.Version = BuildVersion

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	system.InitResourceLimits(logger)

	if _, err := system.CheckFFmpeg(); err != nil {
		logger.Error("ffmpeg unavailable", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		logger.Error("output directory", "error", err)
		os.Exit(1)
	}

	db, err := history.Open(cfg.HistoryDB, logger)
	if err != nil {
		logger.Error("history database", "path", cfg.HistoryDB, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	fonts, err := raster.NewFontCache(cfg.FontPath)
	if err != nil {
		logger.Warn("font not loaded, using basic face", "path", cfg.FontPath, "error", err)
		fonts = raster.BasicFontCache()
	}
	defer fonts.Close()

	server := api.NewServer(api.ServerConfig{
		Config:    cfg,
		Encoder:   video.NewFFmpegEncoder(cfg, logger),
		Fonts:     fonts,
		History:   history.NewRepository(db),
		Logger:    logger,
		StartTime: time.Now(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", "error", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}
