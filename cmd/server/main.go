package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/energyimport/internal/config"
	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/JonMunkholm/energyimport/internal/database"
	"github.com/JonMunkholm/energyimport/internal/logging"
	"github.com/JonMunkholm/energyimport/internal/web"
)

func main() {
	// Load and validate configuration (.env files included)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"database", cfg.Database.Enabled(),
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	var (
		store core.Store
		runs  core.RunStore
	)
	if cfg.Database.Enabled() {
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(cfg.Database.URL); err != nil {
				slog.Error("failed to migrate database", "error", err)
				os.Exit(1)
			}
		}

		pool, err := database.Connect(ctx, cfg.Database.Pool())
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg := core.NewPostgresStore(pool)
		store, runs = pg, pg
	} else {
		slog.Warn("DATABASE_URL not set, using the in-memory store; imported records are lost on exit")
		mem := core.NewMemoryStore()
		store, runs = mem, mem
	}

	service := core.NewService(store, runs, cfg.Import.ServiceConfig())

	// Runs left running by a previous process can never finish.
	if _, err := service.RecoverInterruptedRuns(ctx); err != nil {
		slog.Error("failed to recover interrupted runs", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartRetentionScheduler(jobCtx, cfg.Retention.Core())

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then give running imports the rest of
		// the timeout before cancelling them.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				n := service.CancelAll()
				slog.Warn("imports did not complete in time, cancelled", "cancelled", n, "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	slog.Info("server stopped")
}
