package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"tongjisync/internal/sites"
	"tongjisync/internal/tongji"
	"tongjisync/internal/users"
)

// trendTimeMetrics is the fixed metric list requested for trend/time/a.
const trendTimeMetrics = "pv_count,visit_count,visitor_count,ip_count,bounce_ratio,avg_visit_time,avg_visit_pages,trans_count,trans_ratio"

// ReportClient is the slice of the API client the report sync needs.
type ReportClient interface {
	GetTrendTimeReport(ctx context.Context, token tongji.TokenProvider, siteID string, params map[string]any) (map[string]any, error)
}

// SiteOutcome describes how a single site's sync ended.
type SiteOutcome int

const (
	// SiteSynced means new data was fetched and persisted (or the method
	// has no processing path and there was nothing to do).
	SiteSynced SiteOutcome = iota
	// SiteUnchanged means the response hash matched a stored raw report.
	SiteUnchanged
	// SiteSkipped means the sync did not run, e.g. the token was expired.
	SiteSkipped
)

// SyncService coordinates fetch, hash, dedup and persistence for report
// syncs.
type SyncService struct {
	db     *gorm.DB
	client ReportClient
	logger *slog.Logger
}

// NewSyncService creates a report sync service.
func NewSyncService(db *gorm.DB, client ReportClient, logger *slog.Logger) *SyncService {
	return &SyncService{db: db, client: client, logger: logger}
}

// SyncSite synchronizes one report method for one site. The date range
// is validated and the token checked before any network call.
func (s *SyncService) SyncSite(ctx context.Context, token tongji.TokenProvider, siteID, method string, start, end time.Time, extraParams map[string]any, force bool) (SiteOutcome, error) {
	if _, known := tongji.ReportMethods[method]; !known {
		return SiteSkipped, tongji.NewUnknownMethodError(method)
	}
	if start.After(end) {
		return SiteSkipped, tongji.NewValidationError("start date must not be after end date")
	}
	if !force && token.IsTokenExpired() {
		s.logger.Info("Skipping site - token expired",
			slog.String("site_id", siteID),
			slog.String("user_id", token.UserID()))
		return SiteSkipped, nil
	}

	if method != tongji.MethodTrendTime {
		// Request builders exist for the whole catalog but only the
		// traffic trend report has a processing path.
		s.logger.Info("Report method has no processing path yet",
			slog.String("site_id", siteID),
			slog.String("method", method))
		return SiteSynced, nil
	}

	return s.syncTrendTimeReport(ctx, token, siteID, start, end, extraParams)
}

// syncTrendTimeReport fetches the traffic trend report and persists the
// raw snapshot together with its derived facts in one transaction.
func (s *SyncService) syncTrendTimeReport(ctx context.Context, token tongji.TokenProvider, siteID string, start, end time.Time, extraParams map[string]any) (SiteOutcome, error) {
	start = dateOnly(start)
	end = dateOnly(end)

	requestParams := map[string]any{
		"start_date": start.Format("2006-01-02"),
		"end_date":   end.Format("2006-01-02"),
		"metrics":    trendTimeMetrics,
	}
	for k, v := range extraParams {
		requestParams[k] = v
	}

	s.logger.Info("Syncing traffic trend report",
		slog.String("site_id", siteID),
		slog.String("start_date", requestParams["start_date"].(string)),
		slog.String("end_date", requestParams["end_date"].(string)))

	responseData, err := s.client.GetTrendTimeReport(ctx, token, siteID, requestParams)
	if err != nil {
		return SiteSkipped, err
	}

	responseHash, err := ResponseHash(requestParams, responseData)
	if err != nil {
		return SiteSkipped, err
	}

	existing, err := FindExistingRawReport(s.db, siteID, tongji.MethodTrendTime, start, end, responseHash)
	if err != nil {
		return SiteSkipped, err
	}
	if existing != nil {
		s.logger.Debug("Report data unchanged, skipping",
			slog.String("site_id", siteID),
			slog.String("method", tongji.MethodTrendTime),
			slog.String("response_hash", responseHash))
		return SiteUnchanged, nil
	}

	raw := &RawReport{
		SiteID:       siteID,
		Method:       tongji.MethodTrendTime,
		StartDate:    start,
		EndDate:      end,
		ResponseHash: responseHash,
		FetchedAt:    time.Now().UTC(),
	}
	if err := raw.SetParams(requestParams); err != nil {
		return SiteSkipped, tongji.NewSerializationError(err)
	}
	if err := raw.SetData(responseData); err != nil {
		return SiteSkipped, tongji.NewSerializationError(err)
	}
	if metrics, ok := requestParams["metrics"].(string); ok {
		raw.Metrics = metrics
	}

	facts, err := Transform(s.logger, raw)
	if err != nil {
		return SiteSkipped, err
	}

	now := time.Now().UTC()
	raw.ProcessedAt = &now
	status := SyncStatusProcessed
	raw.SyncStatus = &status

	// Raw report and facts land together or not at all
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := InsertRawReport(tx, raw); err != nil {
			return err
		}
		return InsertFacts(tx, facts)
	})
	if err != nil {
		if IsUniqueViolation(err) {
			// A concurrent sync won the insert race; the data is there.
			s.logger.Debug("Raw report already inserted concurrently",
				slog.String("site_id", siteID),
				slog.String("response_hash", responseHash))
			return SiteUnchanged, nil
		}
		return SiteSkipped, err
	}

	s.logger.Info("Traffic trend report synced",
		slog.String("site_id", siteID),
		slog.String("method", tongji.MethodTrendTime),
		slog.Uint64("raw_report_id", uint64(raw.ID)),
		slog.Int("fact_count", len(facts)))

	return SiteSynced, nil
}

// SyncSummary tallies the outcome of a multi-site report sync.
type SyncSummary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Messages  []string
}

// Err returns a non-nil error when at least one site failed.
func (s SyncSummary) Err() error {
	if s.Failed > 0 {
		return fmt.Errorf("%d of %d sites failed to sync", s.Failed, s.Total)
	}
	return nil
}

// SyncAllSites fans a report sync out over the given sites. Each site's
// token is resolved from its owning user; a failure for one site never
// stops the others. Cancellation takes effect between sites.
func (s *SyncService) SyncAllSites(ctx context.Context, siteList []sites.Site, method string, start, end time.Time, extraParams map[string]any, force bool) SyncSummary {
	summary := SyncSummary{Total: len(siteList)}

	for i := range siteList {
		site := &siteList[i]

		if err := ctx.Err(); err != nil {
			summary.Skipped++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("site %s: skipped, sync cancelled", site.SiteID))
			continue
		}

		owner, err := users.FindByID(s.db, site.UserID)
		if err != nil {
			if errors.Is(err, users.ErrUserNotFound) {
				summary.Failed++
				summary.Messages = append(summary.Messages,
					fmt.Sprintf("site %s: no owning user", site.SiteID))
				continue
			}
			summary.Failed++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("site %s: %v", site.SiteID, err))
			continue
		}

		outcome, err := s.SyncSite(ctx, owner, site.SiteID, method, start, end, extraParams, force)
		if err != nil {
			s.logger.Error("Site sync failed",
				slog.String("site_id", site.SiteID),
				slog.Any("error", err))
			summary.Failed++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("site %s: %v", site.SiteID, err))
			continue
		}

		switch outcome {
		case SiteSkipped:
			summary.Skipped++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("site %s: skipped", site.SiteID))
		case SiteUnchanged:
			summary.Succeeded++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("site %s: unchanged", site.SiteID))
		default:
			summary.Succeeded++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("site %s: synced", site.SiteID))
		}
	}

	return summary
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
