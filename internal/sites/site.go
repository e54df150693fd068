// Package sites manages the analytics sites registered with the provider
// and their sub-directory views.
package sites

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"tongjisync/internal/tongji"
)

// Site status values as reported by the provider.
const (
	StatusActive = 0
	StatusPaused = 1
)

// SiteNotFoundError is returned when a site lookup by provider id fails.
type SiteNotFoundError struct {
	SiteID string
}

func (e *SiteNotFoundError) Error() string {
	return fmt.Sprintf("site not found: %s", e.SiteID)
}

// NewSiteNotFoundError creates a new SiteNotFoundError
func NewSiteNotFoundError(siteID string) *SiteNotFoundError {
	return &SiteNotFoundError{SiteID: siteID}
}

// Site is a web property registered with the analytics provider. It owns
// its sub-directories; the association is maintained explicitly, not by
// the ORM.
type Site struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	SiteID        string `gorm:"uniqueIndex;size:128;not null"`
	Domain        string `gorm:"size:255;not null"`
	Status        int    `gorm:"not null;default:0"`
	SiteCreatedAt *time.Time
	RawData       string    `gorm:"type:text"` // original provider payload, kept for forward compat
	UserID        uint      `gorm:"index;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`

	SubDirectories []SubDirectory `gorm:"-"`
}

// SubDirectory is a path-scoped analytics view under a Site.
type SubDirectory struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SubDirID        string `gorm:"uniqueIndex;size:128;not null"`
	SubDir          string `gorm:"size:255;not null"`
	Status          int    `gorm:"not null;default:0"`
	SubDirCreatedAt *time.Time
	RawData         string    `gorm:"type:text"`
	SiteID          uint      `gorm:"index;not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// AddSubDirectory attaches a sub-directory to the site, maintaining the
// back-reference.
func (s *Site) AddSubDirectory(sd SubDirectory) {
	sd.SiteID = s.ID
	s.SubDirectories = append(s.SubDirectories, sd)
}

// RemoveSubDirectory detaches the sub-directory with the given provider id.
func (s *Site) RemoveSubDirectory(subDirID string) {
	kept := s.SubDirectories[:0]
	for _, sd := range s.SubDirectories {
		if sd.SubDirID != subDirID {
			kept = append(kept, sd)
		}
	}
	s.SubDirectories = kept
}

// SetRawData stores the original provider payload as JSON.
func (s *Site) SetRawData(payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.RawData = string(encoded)
	return nil
}

// RawPayload decodes the stored provider payload.
func (s *Site) RawPayload() (map[string]any, error) {
	if s.RawData == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(s.RawData), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// SetRawData stores the original provider payload as JSON.
func (sd *SubDirectory) SetRawData(payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	sd.RawData = string(encoded)
	return nil
}

// FieldViolation describes a single validation failure on a model field.
type FieldViolation struct {
	Field   string
	Message string
}

// Validate checks the site's field constraints before persistence.
func (s *Site) Validate() []FieldViolation {
	var violations []FieldViolation
	if s.SiteID == "" {
		violations = append(violations, FieldViolation{Field: "siteId", Message: "must not be blank"})
	}
	if len(s.SiteID) > 128 {
		violations = append(violations, FieldViolation{Field: "siteId", Message: "must be at most 128 characters"})
	}
	if s.Domain == "" {
		violations = append(violations, FieldViolation{Field: "domain", Message: "must not be blank"})
	}
	if len(s.Domain) > 255 {
		violations = append(violations, FieldViolation{Field: "domain", Message: "must be at most 255 characters"})
	}
	if s.Status != StatusActive && s.Status != StatusPaused {
		violations = append(violations, FieldViolation{Field: "status", Message: "must be 0 or 1"})
	}
	return violations
}

// Validate checks the sub-directory's field constraints before persistence.
func (sd *SubDirectory) Validate() []FieldViolation {
	var violations []FieldViolation
	if sd.SubDirID == "" {
		violations = append(violations, FieldViolation{Field: "subDirId", Message: "must not be blank"})
	}
	if len(sd.SubDirID) > 128 {
		violations = append(violations, FieldViolation{Field: "subDirId", Message: "must be at most 128 characters"})
	}
	if sd.SubDir == "" {
		violations = append(violations, FieldViolation{Field: "subDir", Message: "must not be blank"})
	}
	if sd.Status != StatusActive && sd.Status != StatusPaused {
		violations = append(violations, FieldViolation{Field: "status", Message: "must be 0 or 1"})
	}
	return violations
}

func violationsError(entity string, violations []FieldViolation) error {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return tongji.NewValidationError(fmt.Sprintf("%s is invalid: %s", entity, strings.Join(parts, "; ")))
}

// FindBySiteID retrieves a site by its provider-assigned id.
func FindBySiteID(db *gorm.DB, siteID string) (*Site, error) {
	var site Site
	if err := db.Where("site_id = ?", siteID).First(&site).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewSiteNotFoundError(siteID)
		}
		return nil, fmt.Errorf("unexpected error querying site: %w", err)
	}
	return &site, nil
}

// FindByUser retrieves all sites owned by the given user id.
func FindByUser(db *gorm.DB, userID uint) ([]Site, error) {
	var all []Site
	if err := db.Where("user_id = ?", userID).Order("id").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to get sites: %w", err)
	}
	return all, nil
}

// ActiveSitesByUser retrieves the user's sites that are not paused.
func ActiveSitesByUser(db *gorm.DB, userID uint) ([]Site, error) {
	var all []Site
	if err := db.Where("user_id = ? AND status = ?", userID, StatusActive).Order("id").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to get active sites: %w", err)
	}
	return all, nil
}

// AllSites retrieves every known site.
func AllSites(db *gorm.DB) ([]Site, error) {
	var all []Site
	if err := db.Order("id").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to get sites: %w", err)
	}
	return all, nil
}

// SaveSite validates and persists a site.
func SaveSite(db *gorm.DB, site *Site) error {
	if violations := site.Validate(); len(violations) > 0 {
		return violationsError("site", violations)
	}
	return db.Save(site).Error
}

// SaveSubDirectory validates and persists a sub-directory.
func SaveSubDirectory(db *gorm.DB, sd *SubDirectory) error {
	if violations := sd.Validate(); len(violations) > 0 {
		return violationsError("sub-directory", violations)
	}
	return db.Save(sd).Error
}

// FindSubDirsBySite retrieves the persisted sub-directories of a site.
func FindSubDirsBySite(db *gorm.DB, siteID uint) ([]SubDirectory, error) {
	var all []SubDirectory
	if err := db.Where("site_id = ?", siteID).Order("id").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to get sub-directories: %w", err)
	}
	return all, nil
}

// FindSubDirBySubDirID retrieves a sub-directory by its provider-assigned id.
func FindSubDirBySubDirID(db *gorm.DB, subDirID string) (*SubDirectory, error) {
	var sd SubDirectory
	if err := db.Where("sub_dir_id = ?", subDirID).First(&sd).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("unexpected error querying sub-directory: %w", err)
	}
	return &sd, nil
}

// DeleteSubDirectory removes a persisted sub-directory.
func DeleteSubDirectory(db *gorm.DB, sd *SubDirectory) error {
	return db.Delete(sd).Error
}
