package jobs

import (
	"context"
	"log/slog"
	"time"

	"tongjisync/internal/config"
	"tongjisync/internal/database"
	"tongjisync/internal/reports"
	"tongjisync/internal/sites"
	"tongjisync/internal/tongji"
	"tongjisync/internal/users"
)

// ReportSyncJob refreshes the site registry and pulls the traffic trend
// report for every active site over the configured sync window.
type ReportSyncJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
	client    *tongji.Client
}

func NewReportSyncJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *ReportSyncJob {
	return &ReportSyncJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
		client:    tongji.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout(), logger),
	}
}

// Run executes one full sync cycle: site lists first, reports second.
func (j *ReportSyncJob) Run() error {
	ctx := context.Background()
	db := j.dbManager.GetConnection()

	allUsers, err := users.AllUsers(db)
	if err != nil {
		j.logger.Error("Failed to load users for sync", slog.Any("error", err))
		return err
	}
	if len(allUsers) == 0 {
		j.logger.Info("No users registered, nothing to sync")
		return nil
	}

	siteSync := sites.NewSyncService(db, j.client, j.logger)
	siteSummary := siteSync.SyncAllUsers(ctx, allUsers, false)
	j.logger.Info("Site list sync finished",
		slog.Int("total", siteSummary.Total),
		slog.Int("succeeded", siteSummary.Succeeded),
		slog.Int("skipped", siteSummary.Skipped),
		slog.Int("failed", siteSummary.Failed))

	allSites, err := sites.AllSites(db)
	if err != nil {
		j.logger.Error("Failed to load sites for sync", slog.Any("error", err))
		return err
	}

	var activeSites []sites.Site
	for _, site := range allSites {
		if site.Status == sites.StatusActive {
			activeSites = append(activeSites, site)
		}
	}
	if len(activeSites) == 0 {
		j.logger.Info("No active sites, skipping report sync")
		return nil
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -j.cfg.SyncWindowDays)

	reportSync := reports.NewSyncService(db, j.client, j.logger)
	summary := reportSync.SyncAllSites(ctx, activeSites, tongji.MethodTrendTime, start, end, nil, false)

	j.logger.Info("Report sync finished",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))

	return summary.Err()
}
