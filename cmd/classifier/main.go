package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/classifier"
	"github.com/ayusman/ewaste/internal/config"
	"github.com/ayusman/ewaste/internal/inference"
	"github.com/ayusman/ewaste/internal/logging"
	"github.com/ayusman/ewaste/internal/server"
	"github.com/ayusman/ewaste/internal/store"
)

func main() {
	fmt.Println("ewaste classifier - e-waste image classification")

	cfg, err := config.LoadClassifier()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("classifier failed", zap.Error(err))
	}
}

func run(cfg *config.ClassifierConfig, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	if err := inference.Init(cfg.Model.OnnxLibrary); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, inference.Shutdown()) }()

	model, err := classifier.NewResNetClassifier(cfg.Model.Path, cfg.Model.PoolSize)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, model.Close()) }()
	logger.Info("model loaded", zap.String("path", cfg.Model.Path), zap.Int("categories", len(classifier.Categories)))

	srv := server.NewClassifier(model, st.Predictions(), cfg.MaxUploadBytes, logger.Named("http"))
	return srv.ListenAndServe(ctx, cfg.HTTP.Addr(), cfg.HTTP.ShutdownTimeout)
}
