package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/app"
	"github.com/ayusman/ewaste/internal/config"
	"github.com/ayusman/ewaste/internal/logging"
)

func main() {
	fmt.Println("ewaste detector - real-time object detection over WebRTC and WebSocket")

	cfg, err := config.LoadDetector()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to start detection service", zap.Error(err))
	}

	logger.Info("starting server",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.Float64("confidence", cfg.DetectionConfidence),
		zap.Int("detection_interval", cfg.DetectionInterval),
		zap.String("cache", cfg.Cache.Backend),
	)
	if err := a.Run(ctx); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
