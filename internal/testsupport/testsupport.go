package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tongjisync/internal/reports"
	"tongjisync/internal/sites"
	"tongjisync/internal/users"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// allModels returns every model that needs migrating for tests
func allModels() []any {
	return []any{
		&users.User{},
		&sites.Site{},
		&sites.SubDirectory{},
		&reports.RawReport{},
		&reports.FactTrafficTrend{},
	}
}

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared to allow multiple
// connections to share the same database within a test. Caches the
// database by test name so multiple calls within the same test return
// the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestUser creates a user with a token that stays valid for an hour
func CreateTestUser(t *testing.T, db *gorm.DB, baiduUID string) *users.User {
	t.Helper()

	var user users.User
	if db.Where("baidu_uid = ?", baiduUID).First(&user).Error == nil {
		return &user
	}

	user = users.User{
		BaiduUID:          baiduUID,
		Username:          "user-" + baiduUID,
		OAuthAccessToken:  "access-" + baiduUID,
		OAuthRefreshToken: "refresh-" + baiduUID,
		TokenExpiresAt:    time.Now().UTC().Add(time.Hour),
		ScopeGranted:      "basic",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("testsupport: failed to create test user: %v", err)
	}
	return &user
}

// CreateExpiredTestUser creates a user whose token expired an hour ago
func CreateExpiredTestUser(t *testing.T, db *gorm.DB, baiduUID string) *users.User {
	t.Helper()

	user := users.User{
		BaiduUID:          baiduUID,
		Username:          "user-" + baiduUID,
		OAuthAccessToken:  "stale-" + baiduUID,
		OAuthRefreshToken: "refresh-" + baiduUID,
		TokenExpiresAt:    time.Now().UTC().Add(-time.Hour),
		ScopeGranted:      "basic",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("testsupport: failed to create expired test user: %v", err)
	}
	return &user
}

// CreateTestSite creates an active site owned by the given user
func CreateTestSite(t *testing.T, db *gorm.DB, userID uint, siteID, domain string) *sites.Site {
	t.Helper()

	var site sites.Site
	if db.Where("site_id = ?", siteID).First(&site).Error == nil {
		return &site
	}

	site = sites.Site{
		SiteID: siteID,
		Domain: domain,
		Status: sites.StatusActive,
		UserID: userID,
	}
	if err := db.Create(&site).Error; err != nil {
		t.Fatalf("testsupport: failed to create test site: %v", err)
	}
	return &site
}

// TrendTimePayload builds a plausible trend/time/a response body with the
// standard field set and the given data rows.
func TrendTimePayload(items []any) map[string]any {
	return map[string]any{
		"result": map[string]any{
			"fields": []any{
				"simple_date_title",
				"pv_count", "visit_count", "visitor_count", "ip_count",
				"bounce_ratio", "avg_visit_time", "avg_visit_pages",
				"trans_count", "trans_ratio",
			},
			"items": items,
		},
	}
}

// TrendTimeRow builds one data row for TrendTimePayload.
func TrendTimeRow(date string, metrics ...any) []any {
	row := []any{[]any{date}}
	return append(row, metrics...)
}
