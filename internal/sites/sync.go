package sites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"tongjisync/internal/tongji"
	"tongjisync/internal/users"
)

// SiteListClient is the slice of the API client the site sync needs.
type SiteListClient interface {
	GetSiteList(ctx context.Context, token tongji.TokenProvider) (map[string]any, error)
}

// SyncService mirrors the provider's site and sub-directory catalog into
// the local database.
type SyncService struct {
	db     *gorm.DB
	client SiteListClient
	logger *slog.Logger
}

// NewSyncService creates a site sync service.
func NewSyncService(db *gorm.DB, client SiteListClient, logger *slog.Logger) *SyncService {
	return &SyncService{db: db, client: client, logger: logger}
}

// SyncUserSites fetches the user's site list from the provider and
// creates or updates the local records. Sub-directories no longer present
// upstream are deleted.
func (s *SyncService) SyncUserSites(ctx context.Context, user *users.User) ([]Site, error) {
	s.logger.Info("Starting site sync for user", slog.String("user_id", user.BaiduUID))

	apiData, err := s.client.GetSiteList(ctx, user)
	if err != nil {
		return nil, err
	}

	list, ok := apiData["list"].([]any)
	if !ok {
		s.logger.Warn("No sites found in API response", slog.String("user_id", user.BaiduUID))
		return nil, nil
	}

	var synced []Site

	for _, entry := range list {
		siteData, ok := entry.(map[string]any)
		if !ok {
			s.logger.Warn("Invalid site data received - not an object", slog.Any("site_data", entry))
			continue
		}

		if !isValidSiteData(siteData) {
			s.logger.Warn("Invalid site data structure", slog.Any("site_data", siteData))
			continue
		}

		site, err := s.createOrUpdateSite(user, siteData)
		if err != nil {
			return nil, err
		}

		if err := s.syncSubDirectories(site, subDirList(siteData)); err != nil {
			return nil, err
		}

		synced = append(synced, *site)
	}

	s.logger.Info("Site sync completed",
		slog.String("user_id", user.BaiduUID),
		slog.Int("sites_count", len(synced)))

	return synced, nil
}

func isValidSiteData(siteData map[string]any) bool {
	_, hasID := siteData["site_id"]
	_, hasDomain := siteData["domain"].(string)
	return hasID && hasDomain && asString(siteData["site_id"]) != ""
}

func (s *SyncService) createOrUpdateSite(user *users.User, siteData map[string]any) (*Site, error) {
	siteID := asString(siteData["site_id"])
	domain := asString(siteData["domain"])

	site, err := FindBySiteID(s.db, siteID)
	if err != nil {
		var notFound *SiteNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		site = &Site{SiteID: siteID, UserID: user.ID}
		s.logger.Debug("Creating new site", slog.String("site_id", siteID))
	} else {
		s.logger.Debug("Updating existing site", slog.String("site_id", siteID))
	}

	site.Domain = domain
	site.Status = asInt(siteData["status"])
	if err := site.SetRawData(siteData); err != nil {
		return nil, err
	}
	if created := asUnixTime(siteData["create_time"]); created != nil {
		site.SiteCreatedAt = created
	}

	if err := SaveSite(s.db, site); err != nil {
		return nil, err
	}
	return site, nil
}

func subDirList(siteData map[string]any) []map[string]any {
	raw, ok := siteData["sub_dir_list"].([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *SyncService) syncSubDirectories(site *Site, subDirs []map[string]any) error {
	existing, err := FindSubDirsBySite(s.db, site.ID)
	if err != nil {
		return err
	}

	processed := make(map[string]bool)

	for _, subDirData := range subDirs {
		if !isValidSubDirData(subDirData) {
			continue
		}
		subDirID, err := s.processSubDirectory(site, subDirData)
		if err != nil {
			return err
		}
		processed[subDirID] = true
	}

	// Delete sub-directories no longer present upstream
	for i := range existing {
		if processed[existing[i].SubDirID] {
			continue
		}
		s.logger.Info("Removing orphaned sub directory", slog.String("sub_dir_id", existing[i].SubDirID))
		site.RemoveSubDirectory(existing[i].SubDirID)
		if err := DeleteSubDirectory(s.db, &existing[i]); err != nil {
			return err
		}
	}

	return nil
}

func isValidSubDirData(subDirData map[string]any) bool {
	id, okID := subDirData["sub_dir_id"]
	_, okName := subDirData["sub_dir"].(string)
	return okID && okName && asString(id) != ""
}

func (s *SyncService) processSubDirectory(site *Site, subDirData map[string]any) (string, error) {
	subDirID := asString(subDirData["sub_dir_id"])
	subDirName := asString(subDirData["sub_dir"])

	subDir, err := FindSubDirBySubDirID(s.db, subDirID)
	if err != nil {
		return "", err
	}

	isNew := subDir == nil
	if isNew {
		subDir = &SubDirectory{SubDirID: subDirID, SiteID: site.ID}
		s.logger.Debug("Creating new sub directory", slog.String("sub_dir_id", subDirID))
	} else {
		s.logger.Debug("Updating existing sub directory", slog.String("sub_dir_id", subDirID))
	}

	subDir.SubDir = subDirName
	subDir.Status = asInt(subDirData["status"])
	if err := subDir.SetRawData(subDirData); err != nil {
		return "", err
	}
	if created := asUnixTime(subDirData["create_time"]); created != nil {
		subDir.SubDirCreatedAt = created
	}

	if err := SaveSubDirectory(s.db, subDir); err != nil {
		return "", err
	}
	if isNew {
		site.AddSubDirectory(*subDir)
	}
	return subDir.SubDirID, nil
}

// UserSyncSummary tallies the outcome of a multi-user site sync.
type UserSyncSummary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Messages  []string
}

// SyncAllUsers syncs the site catalog for every given user. Users with an
// expired token are skipped unless force is set; a failure for one user
// does not stop the others.
func (s *SyncService) SyncAllUsers(ctx context.Context, all []users.User, force bool) UserSyncSummary {
	summary := UserSyncSummary{Total: len(all)}

	for i := range all {
		user := &all[i]

		if err := ctx.Err(); err != nil {
			summary.Skipped++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("user %s: skipped, sync cancelled", user.BaiduUID))
			continue
		}

		if !force && user.IsTokenExpired() {
			s.logger.Info("Skipping user - token expired", slog.String("user_id", user.BaiduUID))
			summary.Skipped++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("user %s: skipped, token expired", user.BaiduUID))
			continue
		}

		synced, err := s.SyncUserSites(ctx, user)
		if err != nil {
			s.logger.Error("Site sync failed for user",
				slog.String("user_id", user.BaiduUID),
				slog.Any("error", err))
			summary.Failed++
			summary.Messages = append(summary.Messages,
				fmt.Sprintf("user %s: %v", user.BaiduUID, err))
			continue
		}

		summary.Succeeded++
		summary.Messages = append(summary.Messages,
			fmt.Sprintf("user %s: %d sites", user.BaiduUID, len(synced)))
	}

	return summary
}

// asString converts provider scalars to a string; numeric ids arrive as
// json.Number when the payload is decoded with UseNumber.
func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// asUnixTime converts a numeric unix timestamp to a time, nil when absent
// or non-numeric.
func asUnixTime(v any) *time.Time {
	var secs int64
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil
		}
		secs = i
	case float64:
		secs = int64(n)
	case int:
		secs = int64(n)
	default:
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}
