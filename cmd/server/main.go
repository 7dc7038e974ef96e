package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/logbuf"
	"github.com/KevinKickass/xkop-gateway/internal/logging"
	"github.com/KevinKickass/xkop-gateway/internal/storage"
	"github.com/KevinKickass/xkop-gateway/internal/system"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

func main() {
	var opts struct {
		Config string `short:"c" long:"config" env:"XKOP_CONFIG" default:"configs/config.yaml" description:"Path to the gateway configuration"`
	}
	if _, err := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash).Parse(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Config laden
	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Logger initialisieren
	buffers := logbuf.NewSet(cfg.Logging.BufferLines, cfg.Logging.BufferTrim)
	logger, err := logging.New(cfg.Logging, buffers)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Config loaded successfully", zap.String("path", opts.Config))

	// PostgreSQL verbinden (optional)
	var db *storage.PostgresClient
	if cfg.Database.Enabled {
		db, err = storage.NewPostgresClient(context.Background(), cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Database connected successfully")
	}

	// Lifecycle Manager
	lifecycle := system.NewLifecycleManager(db, cfg, buffers, logger)

	// System starten
	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("XKOP gateway started successfully")

	// Graceful Shutdown auf Signal oder API
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("Shutdown requested via API")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("XKOP gateway stopped successfully")
}
