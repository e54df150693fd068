package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"tongjisync/internal/reports"
	"tongjisync/internal/sites"
	"tongjisync/internal/tongji"
	"tongjisync/internal/users"
)

// Handlers bundles the dependencies of the inspection API.
type Handlers struct {
	db         *gorm.DB
	logger     *slog.Logger
	reportSync *reports.SyncService
}

// NewHandlers creates the handler set for the inspection API.
func NewHandlers(db *gorm.DB, logger *slog.Logger, reportSync *reports.SyncService) *Handlers {
	return &Handlers{db: db, logger: logger, reportSync: reportSync}
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
}

// HealthIndexAction handles the health check endpoint
func (h *Handlers) HealthIndexAction(c *fiber.Ctx) error {
	dbStatus := "ok"

	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error"
		h.logger.Error("Database connection error", slog.Any("error", err))
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error"
		h.logger.Error("Database ping failed", slog.Any("error", err))
	}

	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		DBStatus:  dbStatus,
	}
	if dbStatus != "ok" {
		health.Status = "degraded"
	}

	return c.JSON(health)
}

// SitesIndexAction lists every registered site.
func (h *Handlers) SitesIndexAction(c *fiber.Ctx) error {
	all, err := sites.AllSites(h.db)
	if err != nil {
		h.logger.Error("Failed to list sites", slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to list sites",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"sites":   all,
	})
}

// SiteRawReportsAction lists the stored raw report snapshots for a site,
// most recently fetched first.
func (h *Handlers) SiteRawReportsAction(c *fiber.Ctx) error {
	siteID := c.Params("siteId")

	if _, err := sites.FindBySiteID(h.db, siteID); err != nil {
		return h.siteLookupError(c, siteID, err)
	}

	rawReports, err := reports.RawReportsBySite(h.db, siteID)
	if err != nil {
		h.logger.Error("Failed to list raw reports",
			slog.String("site_id", siteID), slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to list raw reports",
		})
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"raw_reports": rawReports,
	})
}

// SiteFactsAction lists normalized fact rows for a site, optionally
// filtered with start_date, end_date and gran query params.
func (h *Handlers) SiteFactsAction(c *fiber.Ctx) error {
	siteID := c.Params("siteId")

	if _, err := sites.FindBySiteID(h.db, siteID); err != nil {
		return h.siteLookupError(c, siteID, err)
	}

	var filter reports.FactFilter
	if raw := c.Query("start_date"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			return badRequest(c, "start_date must be YYYY-MM-DD")
		}
		filter.StartDate = &t
	}
	if raw := c.Query("end_date"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			return badRequest(c, "end_date must be YYYY-MM-DD")
		}
		filter.EndDate = &t
	}
	filter.Gran = c.Query("gran")

	facts, err := reports.FactsBySite(h.db, siteID, filter)
	if err != nil {
		h.logger.Error("Failed to list facts",
			slog.String("site_id", siteID), slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to list facts",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"facts":   facts,
	})
}

// syncRequest is the POST body for an on-demand site sync.
type syncRequest struct {
	Method    string          `json:"method"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Params    json.RawMessage `json:"params"`
	Force     bool            `json:"force"`
}

// SiteSyncAction triggers a report sync for one site.
func (h *Handlers) SiteSyncAction(c *fiber.Ctx) error {
	siteID := c.Params("siteId")

	site, err := sites.FindBySiteID(h.db, siteID)
	if err != nil {
		return h.siteLookupError(c, siteID, err)
	}

	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "request body must be JSON")
	}
	if req.Method == "" {
		req.Method = tongji.MethodTrendTime
	}
	if req.StartDate == "" || req.EndDate == "" {
		return badRequest(c, "start_date and end_date are required")
	}
	start, err := time.ParseInLocation("2006-01-02", req.StartDate, time.UTC)
	if err != nil {
		return badRequest(c, "start_date must be YYYY-MM-DD")
	}
	end, err := time.ParseInLocation("2006-01-02", req.EndDate, time.UTC)
	if err != nil {
		return badRequest(c, "end_date must be YYYY-MM-DD")
	}

	var extraParams map[string]any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &extraParams); err != nil {
			return badRequest(c, "params must be a JSON object")
		}
	}

	owner, err := users.FindByID(h.db, site.UserID)
	if err != nil {
		h.logger.Error("Failed to resolve site owner",
			slog.String("site_id", siteID), slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to resolve site owner",
		})
	}

	outcome, err := h.reportSync.SyncSite(c.Context(), owner, siteID, req.Method, start, end, extraParams, req.Force)
	if err != nil {
		status := fiber.StatusBadGateway
		if tongji.IsKind(err, tongji.ErrKindValidation) || tongji.IsKind(err, tongji.ErrKindUnknownMethod) {
			status = fiber.StatusUnprocessableEntity
		}
		h.logger.Error("Site sync failed",
			slog.String("site_id", siteID), slog.Any("error", err))
		return c.Status(status).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"outcome": outcomeLabel(outcome),
	})
}

func outcomeLabel(outcome reports.SiteOutcome) string {
	switch outcome {
	case reports.SiteUnchanged:
		return "unchanged"
	case reports.SiteSkipped:
		return "skipped"
	default:
		return "synced"
	}
}

func (h *Handlers) siteLookupError(c *fiber.Ctx, siteID string, err error) error {
	var notFound *sites.SiteNotFoundError
	if errors.As(err, &notFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"error":   "Site not found",
		})
	}
	h.logger.Error("Failed to load site",
		slog.String("site_id", siteID), slog.Any("error", err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"error":   "Failed to load site",
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}
