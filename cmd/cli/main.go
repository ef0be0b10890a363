package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mxschmitt/pg-catalog/internal/catalog"
	"github.com/mxschmitt/pg-catalog/internal/config"
	"github.com/mxschmitt/pg-catalog/internal/database"
	"github.com/mxschmitt/pg-catalog/internal/menu"
)

func main() {
	config.LoadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The menu owns stdout, keep logs short and human readable
	if os.Getenv("LOG_FORMAT") == "" {
		cfg.LogFormat = "text"
	}
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "WARN"
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.New(cfg.DatabaseURL, logger)
	if errors.Is(err, database.ErrNotConfigured) {
		fmt.Fprintln(os.Stderr, "ERROR: DATABASE_URL is not configured!")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo := catalog.NewRepository(db, cfg.DBTimeout, logger)
	if err := menu.New(repo, os.Stdin, os.Stdout, logger).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
