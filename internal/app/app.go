// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/piquet/courier/internal/api"
	"github.com/piquet/courier/internal/config"
	"github.com/piquet/courier/internal/dispatch"
	"github.com/piquet/courier/internal/metrics"
	"github.com/piquet/courier/internal/provider"
	"github.com/piquet/courier/internal/sandbox"
	"github.com/piquet/courier/internal/scheduler"
	"github.com/piquet/courier/internal/store"
	"github.com/piquet/courier/internal/webhook"
	"github.com/piquet/courier/internal/worker"
)

// App is the main application
type App struct {
	config     *config.Config
	db         *store.DB
	dedup      *webhook.DedupStore
	dispatcher *dispatch.Dispatcher
	worker     *worker.Worker
	reconciler *webhook.Reconciler
	apiServer  *api.Server
	logger     *slog.Logger
}

// New creates a new application. Every dependency is constructed here and
// passed down explicitly.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	db, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	dedup, err := webhook.OpenDedupStore(cfg.Storage.EventsPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var sender provider.Sender
	var sandboxStorage *sandbox.Storage
	if cfg.Provider.Sandbox {
		sandboxStorage, err = sandbox.NewStorage(dedup.DB())
		if err != nil {
			dedup.Close()
			db.Close()
			return nil, fmt.Errorf("failed to create sandbox storage: %w", err)
		}
		capture := sandbox.NewSender(sandboxStorage, logger)
		if cfg.Provider.SandboxErrorRate > 0 {
			capture.SetErrorSimulation(true, cfg.Provider.SandboxErrorRate)
		}
		sender = capture
		logger.Info("sandbox mode enabled, messages will be captured, not sent")
	} else {
		sender = provider.NewResendClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	}

	sched := scheduler.New(db, logger)

	dispatcher := dispatch.New(sender, db, sched, m, dispatch.Config{
		DefaultFromEmail: cfg.Provider.FromEmail,
		DefaultFromName:  cfg.Provider.FromName,
		BulkDelay:        cfg.Bulk.SendDelay,
	}, logger)

	w := worker.New(dispatcher, sched, m, logger, cfg.Retry.ClaimLimit, cfg.Retry.PollInterval)
	reconciler := webhook.NewReconciler(db, dedup, m, logger)

	var verifier *webhook.Verifier
	if cfg.Webhook.SigningSecret != "" {
		verifier, err = webhook.NewVerifier(cfg.Webhook.SigningSecret)
		if err != nil {
			dedup.Close()
			db.Close()
			return nil, err
		}
	} else {
		logger.Warn("webhook signing secret not set, signature verification disabled")
	}

	apiServer := api.NewServer(api.ServerOptions{
		Config:     cfg,
		DB:         db,
		Dispatcher: dispatcher,
		Worker:     w,
		Reconciler: reconciler,
		Verifier:   verifier,
		Sandbox:    sandboxStorage,
		Metrics:    m,
		Logger:     logger,
	})

	return &App{
		config:     cfg,
		db:         db,
		dedup:      dedup,
		dispatcher: dispatcher,
		worker:     w,
		reconciler: reconciler,
		apiServer:  apiServer,
		logger:     logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting courier",
		"api_addr", a.config.Server.ListenAddr,
		"provider", a.config.Provider.BaseURL,
		"poll_interval", a.config.Retry.PollInterval,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go a.worker.Start(ctx)
	go a.reconciler.CleanupLoop(ctx, a.config.Webhook.CleanupInterval, a.config.Webhook.DedupMaxAge)

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if err := a.dedup.Close(); err != nil {
		a.logger.Error("event store close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Worker exposes the retry worker for one-shot CLI runs.
func (a *App) Worker() *worker.Worker {
	return a.worker
}

// Close releases storage without a full server shutdown.
func (a *App) Close() {
	a.dedup.Close()
	a.db.Close()
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
