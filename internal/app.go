// Package internal contains core application functionality
package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"tongjisync/internal/config"
	"tongjisync/internal/database"
	"tongjisync/internal/http"
	"tongjisync/internal/jobs"
	"tongjisync/internal/logger"
	"tongjisync/internal/reports"
	"tongjisync/internal/tongji"
)

// Application wires configuration, storage, the API client, background
// jobs and the inspection HTTP server together.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Scheduler *jobs.Scheduler

	server *fiber.App
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	appLogger := logger.New(cfg)

	dbManager := database.NewDBManager(cfg, appLogger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	scheduler, err := jobs.NewScheduler(dbManager, appLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	client := tongji.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout(), appLogger)
	reportSync := reports.NewSyncService(dbManager.GetConnection(), client, appLogger)
	server := http.NewApp(cfg, dbManager.GetConnection(), appLogger, reportSync)

	return &Application{
		Config:    cfg,
		Logger:    appLogger,
		DBManager: dbManager,
		Scheduler: scheduler,
		server:    server,
	}, nil
}

// StartAsync launches the background jobs and the HTTP server without
// blocking the caller.
func (a *Application) StartAsync() error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}

	go func() {
		addr := ":" + a.Config.AppPort
		a.Logger.Info("HTTP server listening", slog.String("addr", addr))
		if err := a.server.Listen(addr); err != nil {
			a.Logger.Error("HTTP server stopped", slog.Any("error", err))
		}
	}()

	return nil
}

// Shutdown stops the jobs, the HTTP server and the database connection.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()

	if err := a.server.ShutdownWithContext(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", slog.Any("error", err))
	}

	return a.DBManager.Close()
}
