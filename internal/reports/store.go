package reports

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"tongjisync/internal/tongji"
)

// FindExistingRawReport looks up a raw report by its five-part unique
// key. Returns nil without error when no matching row exists.
func FindExistingRawReport(db *gorm.DB, siteID, method string, start, end time.Time, responseHash string) (*RawReport, error) {
	var report RawReport
	err := db.Where(
		"site_id = ? AND method = ? AND start_date = ? AND end_date = ? AND response_hash = ?",
		siteID, method, start, end, responseHash,
	).First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected error querying raw report: %w", err)
	}
	return &report, nil
}

// InsertRawReport persists a new immutable raw report.
func InsertRawReport(db *gorm.DB, report *RawReport) error {
	return db.Create(report).Error
}

// RawReportsBySite retrieves every raw report stored for a site, newest
// first.
func RawReportsBySite(db *gorm.DB, siteID string) ([]RawReport, error) {
	var all []RawReport
	if err := db.Where("site_id = ?", siteID).Order("fetched_at DESC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to get raw reports: %w", err)
	}
	return all, nil
}

// InsertFacts bulk-inserts fact rows under the six-column uniqueness
// constraint. Each row is validated first; a duplicate key is a hard
// error here, the dedup check on the raw report is responsible for not
// re-deriving facts.
func InsertFacts(db *gorm.DB, facts []FactTrafficTrend) error {
	if len(facts) == 0 {
		return nil
	}
	for i := range facts {
		if violations := facts[i].Validate(); len(violations) > 0 {
			parts := make([]string, len(violations))
			for j, v := range violations {
				parts[j] = fmt.Sprintf("%s: %s", v.Field, v.Message)
			}
			return tongji.NewValidationError(fmt.Sprintf("fact is invalid: %s", strings.Join(parts, "; ")))
		}
	}
	return db.Create(&facts).Error
}

// FactFilter narrows a fact query.
type FactFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Gran      string
}

// FactsBySite retrieves fact rows for a site, optionally filtered by
// date range and granularity.
func FactsBySite(db *gorm.DB, siteID string, filter FactFilter) ([]FactTrafficTrend, error) {
	query := db.Where("site_id = ?", siteID)
	if filter.StartDate != nil {
		query = query.Where("date >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("date <= ?", *filter.EndDate)
	}
	if filter.Gran != "" {
		query = query.Where("gran = ?", filter.Gran)
	}

	var all []FactTrafficTrend
	if err := query.Order("date").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to get facts: %w", err)
	}
	return all, nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure.
// Concurrent syncs of the same site and date range may race on insert;
// the loser must treat this as already-synced.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
