package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/config"
	"github.com/ayusman/ewaste/internal/guidance"
	"github.com/ayusman/ewaste/internal/logging"
	"github.com/ayusman/ewaste/internal/server"
)

func main() {
	fmt.Println("ewaste gateway - disposal guidance API")

	cfg, err := config.LoadGateway()
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

	catalog, err := guidance.LoadCatalog()
	if err != nil {
		logger.Fatal("failed to load disposal data", zap.Error(err))
	}

	guide, err := guidance.NewGeminiGuide(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, catalog, logger.Named("gemini"))
	if err != nil {
		logger.Fatal("failed to create guide", zap.Error(err))
	}

	inference := guidance.NewInferenceClient(cfg.InferenceURL, cfg.RequestTimeout)
	srv := server.NewGateway(inference, guide, cfg.MaxFileBytes, logger.Named("http"))

	logger.Info("starting server", zap.String("addr", cfg.HTTP.Addr()), zap.String("inference_url", cfg.InferenceURL))
	if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr(), cfg.HTTP.ShutdownTimeout); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
