package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mxschmitt/pg-catalog/internal/api"
	"github.com/mxschmitt/pg-catalog/internal/catalog"
	"github.com/mxschmitt/pg-catalog/internal/config"
	"github.com/mxschmitt/pg-catalog/internal/database"
	"github.com/mxschmitt/pg-catalog/internal/service"
	"go.uber.org/zap"
)

func main() {
	config.LoadEnvFiles()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting Catalog Service")

	db, err := database.New(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to configure database", zap.Error(err))
	}
	repo := catalog.NewRepository(db, cfg.DBTimeout, logger)

	catalogService, err := service.New(cfg, repo, logger)
	if err != nil {
		logger.Fatal("Failed to initialize catalog service", zap.Error(err))
	}

	// Create and start API server
	apiServer := api.New(cfg, catalogService, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	logger.Info("Service started successfully")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if err := catalogService.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down service", zap.Error(err))
	}
}
