package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tongjisync/internal/config"
	tongjihttp "tongjisync/internal/http"
	"tongjisync/internal/reports"
	"tongjisync/internal/testsupport"
	"tongjisync/internal/tongji"
)

type cannedReportClient struct {
	payload map[string]any
	err     error
	calls   int
}

func (c *cannedReportClient) GetTrendTimeReport(ctx context.Context, token tongji.TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.payload, nil
}

func newTestApp(t *testing.T, db *gorm.DB, client reports.ReportClient) *fiber.App {
	t.Helper()

	cfg := &config.Config{
		AppName:     "tongjisync",
		Environment: config.Test,
	}
	logger := testsupport.GetLogger()
	syncService := reports.NewSyncService(db, client, logger)
	return tongjihttp.NewApp(cfg, db, logger, syncService)
}

func decodeBody(t *testing.T, resp *nethttp.Response) map[string]any {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	return decoded
}

func TestHealthEndpoint(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := newTestApp(t, db, &cannedReportClient{})

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["db_status"])
}

func TestSitesEndpoints(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "uid-web")
	site := testsupport.CreateTestSite(t, db, user.ID, "501", "web.example.com")
	app := newTestApp(t, db, &cannedReportClient{})

	t.Run("lists sites", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/sites", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		sitesList, ok := body["sites"].([]any)
		require.True(t, ok)
		assert.Len(t, sitesList, 1)
	})

	t.Run("unknown site yields 404", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/sites/999/raw-reports", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("lists raw reports for a site", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/sites/"+site.SiteID+"/raw-reports", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("rejects malformed fact filters", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/sites/"+site.SiteID+"/facts?start_date=last-week", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})
}

func TestSiteSyncEndpoint(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	user := testsupport.CreateTestUser(t, db, "uid-sync")
	site := testsupport.CreateTestSite(t, db, user.ID, "601", "sync.example.com")

	payload := testsupport.TrendTimePayload([]any{
		testsupport.TrendTimeRow("2024-02-01",
			1000, 800, 600, 580, "45.50", 180, "2.50", 15, "1.88"),
	})

	postSync := func(t *testing.T, app *fiber.App, siteID string, body map[string]any) *nethttp.Response {
		t.Helper()
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest("POST", "/api/v1/sites/"+siteID+"/sync", bytes.NewReader(encoded))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, int(5*time.Second/time.Millisecond))
		require.NoError(t, err)
		return resp
	}

	t.Run("syncs and reports the outcome", func(t *testing.T) {
		client := &cannedReportClient{payload: payload}
		app := newTestApp(t, db, client)

		resp := postSync(t, app, site.SiteID, map[string]any{
			"start_date": "2024-02-01",
			"end_date":   "2024-02-07",
		})
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "synced", body["outcome"])
		assert.Equal(t, 1, client.calls)

		facts, err := reports.FactsBySite(db, site.SiteID, reports.FactFilter{})
		require.NoError(t, err)
		assert.Len(t, facts, 1)
	})

	t.Run("repeated sync is unchanged", func(t *testing.T) {
		client := &cannedReportClient{payload: payload}
		app := newTestApp(t, db, client)

		resp := postSync(t, app, site.SiteID, map[string]any{
			"start_date": "2024-02-01",
			"end_date":   "2024-02-07",
		})
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "unchanged", body["outcome"])
	})

	t.Run("missing dates are rejected", func(t *testing.T) {
		app := newTestApp(t, db, &cannedReportClient{})

		resp := postSync(t, app, site.SiteID, map[string]any{})
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("inverted range is rejected without calling the API", func(t *testing.T) {
		client := &cannedReportClient{}
		app := newTestApp(t, db, client)

		resp := postSync(t, app, site.SiteID, map[string]any{
			"start_date": "2024-02-07",
			"end_date":   "2024-02-01",
		})
		assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, 0, client.calls)
	})

	t.Run("unknown method is rejected", func(t *testing.T) {
		app := newTestApp(t, db, &cannedReportClient{})

		resp := postSync(t, app, site.SiteID, map[string]any{
			"method":     "made/up/report",
			"start_date": "2024-02-01",
			"end_date":   "2024-02-07",
		})
		assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("upstream failure maps to bad gateway", func(t *testing.T) {
		client := &cannedReportClient{err: tongji.NewProviderError("110", "token invalid")}
		app := newTestApp(t, db, client)

		resp := postSync(t, app, site.SiteID, map[string]any{
			"start_date": "2024-03-01",
			"end_date":   "2024-03-07",
		})
		assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	})
}
