package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Brownie44l1/classify-api/internal/config"
	"github.com/Brownie44l1/classify-api/internal/handlers"
	"github.com/Brownie44l1/classify-api/internal/logger"
	"github.com/Brownie44l1/classify-api/internal/metrics"
	"github.com/Brownie44l1/classify-api/internal/model"
	"github.com/Brownie44l1/classify-api/internal/pipeline"
	"github.com/Brownie44l1/classify-api/internal/server"
)

const version = "1.0.0"

func main() {
	configPath, err := config.ParseConfigFlag(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.New(cfg.Log, cfg.Server.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("loading model", zap.String("backbone", cfg.Model.Backbone), zap.String("path", cfg.Model.Path))
	classifier, err := model.Load(cfg.Model, logger)
	if err != nil {
		// keep serving /health and /model/info; predictions return 503
		logger.Error("model failed to load, running degraded", zap.Error(err))
	}
	defer classifier.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	service, err := pipeline.NewService(cfg, classifier, m, logger)
	if err != nil {
		logger.Fatal("failed to create classification service", zap.Error(err))
	}

	handler := handlers.NewHandler(service, cfg.Server.MaxMultipartMemory, version, logger)
	srv := server.New(cfg.Server, handler, m, logger)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
