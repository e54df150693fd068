package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"tongjisync/internal/config"
	"tongjisync/internal/reports"
)

// NewApp builds the inspection API server and mounts all routes.
func NewApp(cfg *config.Config, db *gorm.DB, logger *slog.Logger, reportSync *reports.SyncService) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: cfg.IsProduction(),
	})

	app.Use(recover.New())
	if cfg.IsDevelopment() {
		app.Use(fiberlogger.New())
	}

	handlers := NewHandlers(db, logger, reportSync)

	app.Get("/health", handlers.HealthIndexAction)

	v1 := app.Group("/api/v1")
	v1.Get("/sites", handlers.SitesIndexAction)
	v1.Get("/sites/:siteId/raw-reports", handlers.SiteRawReportsAction)
	v1.Get("/sites/:siteId/facts", handlers.SiteFactsAction)
	v1.Post("/sites/:siteId/sync", handlers.SiteSyncAction)

	return app
}
