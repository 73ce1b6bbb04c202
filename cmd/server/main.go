package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stash/internal/server/api"
	"stash/internal/server/auth"
	"stash/internal/server/config"
	"stash/internal/server/database"
	"stash/internal/server/service"
	"stash/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"max_file_size", cfg.MaxFileSize,
		"session_ttl", cfg.SessionTTL,
		"public_sharing", cfg.EnablePublicSharing,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage; an unusable storage root is fatal.
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	// Wire the core: repository, credentials, sessions, authorization, services
	repo := database.NewRepository(db)
	creds := auth.NewCredentialStore(repo)
	sessions := auth.NewSessionManager(creds, cfg.SessionTTL)
	authz := auth.NewAuthorizer(cfg.EnablePublicSharing)
	fileSvc := service.NewFileService(repo, store, authz, cfg)
	accountSvc := service.NewAccountService(creds, sessions, authz, repo, store)

	// Bootstrap the default admin on an empty user table
	if err := accountSvc.Bootstrap(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		slog.Error("failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	// Start session sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := auth.NewSweeper(sessions, cfg.SessionSweep)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(accountSvc, fileSvc, db)
	e := api.SetupRouter(handler, sessions, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop session sweeper
	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}
