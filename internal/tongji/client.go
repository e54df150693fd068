// Package tongji implements the client for the Baidu Tongji report API.
package tongji

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the production endpoint of the Tongji REST API.
const DefaultBaseURL = "https://openapi.baidu.com/rest/2.0/tongji"

// Report method names of the provider's catalog.
const (
	MethodTrendTime           = "trend/time/a"
	MethodTrendLatest         = "trend/latest/a"
	MethodProProduct          = "pro/product/a"
	MethodProHour             = "pro/hour/a"
	MethodSourceAll           = "source/all/a"
	MethodSourceEngine        = "source/engine/a"
	MethodSourceSearchword    = "source/searchword/a"
	MethodSourceLink          = "source/link/a"
	MethodCustomMedia         = "custom/media/a"
	MethodVisitToppage        = "visit/toppage/a"
	MethodVisitLandingpage    = "visit/landingpage/a"
	MethodVisitTopdomain      = "visit/topdomain/a"
	MethodVisitDistrict       = "visit/district/a"
	MethodVisitWorld          = "visit/world/a"
	MethodOverviewTimeTrend   = "overview/getTimeTrendRpt"
	MethodOverviewDistrict    = "overview/getDistrictRpt"
	MethodOverviewCommonTrack = "overview/getCommonTrackRpt"
)

// ReportMethods maps every supported report method to a display label.
var ReportMethods = map[string]string{
	MethodTrendTime:           "traffic trend",
	MethodTrendLatest:         "realtime visitors",
	MethodProProduct:          "promotion channels",
	MethodProHour:             "promotion trend",
	MethodSourceAll:           "all sources",
	MethodSourceEngine:        "search engines",
	MethodSourceSearchword:    "search words",
	MethodSourceLink:          "external links",
	MethodCustomMedia:         "ad tracking",
	MethodVisitToppage:        "top pages",
	MethodVisitLandingpage:    "landing pages",
	MethodVisitTopdomain:      "top domains",
	MethodVisitDistrict:       "districts (china)",
	MethodVisitWorld:          "districts (world)",
	MethodOverviewTimeTrend:   "overview time trend",
	MethodOverviewDistrict:    "overview districts",
	MethodOverviewCommonTrack: "overview common tracks",
}

// TokenProvider exposes the OAuth credential this subsystem consumes.
// Token refresh is out of scope; expiry is only checked, never repaired.
type TokenProvider interface {
	IsTokenExpired() bool
	AccessToken() string
	UserID() string
}

// Client calls the Tongji REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a client against the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

// GetSiteList fetches the caller's registered sites and sub-directories.
func (c *Client) GetSiteList(ctx context.Context, token TokenProvider) (map[string]any, error) {
	if token.IsTokenExpired() {
		return nil, NewTokenExpiredError()
	}

	endpoint := c.baseURL + "/config/getSiteList"

	c.logger.Info("Requesting site list from Tongji API",
		slog.String("user_id", token.UserID()),
		slog.String("url", endpoint))

	query := url.Values{}
	query.Set("access_token", token.AccessToken())

	return c.doGet(ctx, endpoint, query)
}

// GetReportData fetches report data; params must carry site_id and method.
func (c *Client) GetReportData(ctx context.Context, token TokenProvider, params map[string]any) (map[string]any, error) {
	if token.IsTokenExpired() {
		return nil, NewTokenExpiredError()
	}

	endpoint := c.baseURL + "/report/getData"

	method := "unknown"
	if m, ok := params["method"].(string); ok {
		method = m
	}
	c.logger.Info("Requesting report data from Tongji API",
		slog.String("user_id", token.UserID()),
		slog.String("url", endpoint),
		slog.String("method", method))

	query := url.Values{}
	query.Set("access_token", token.AccessToken())
	for k, v := range params {
		query.Set(k, paramString(v))
	}

	return c.doGet(ctx, endpoint, query)
}

// GetTrendTimeReport fetches the traffic trend report (trend/time/a).
func (c *Client) GetTrendTimeReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodTrendTime, params))
}

// GetRealtimeVisitorsReport fetches the realtime visitors report (trend/latest/a).
func (c *Client) GetRealtimeVisitorsReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodTrendLatest, params))
}

// GetProProductReport fetches the promotion channels report (pro/product/a).
func (c *Client) GetProProductReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodProProduct, params))
}

// GetProHourReport fetches the promotion trend report (pro/hour/a).
func (c *Client) GetProHourReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodProHour, params))
}

// GetSourceAllReport fetches the all-sources report (source/all/a).
func (c *Client) GetSourceAllReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodSourceAll, params))
}

// GetSourceEngineReport fetches the search engine report (source/engine/a).
func (c *Client) GetSourceEngineReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodSourceEngine, params))
}

// GetSourceSearchwordReport fetches the search word report (source/searchword/a).
func (c *Client) GetSourceSearchwordReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodSourceSearchword, params))
}

// GetSourceLinkReport fetches the external links report (source/link/a).
func (c *Client) GetSourceLinkReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodSourceLink, params))
}

// GetCustomMediaReport fetches the ad tracking report (custom/media/a).
func (c *Client) GetCustomMediaReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodCustomMedia, params))
}

// GetVisitToppageReport fetches the top pages report (visit/toppage/a).
func (c *Client) GetVisitToppageReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodVisitToppage, params))
}

// GetVisitLandingpageReport fetches the landing pages report (visit/landingpage/a).
func (c *Client) GetVisitLandingpageReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodVisitLandingpage, params))
}

// GetVisitTopdomainReport fetches the top domains report (visit/topdomain/a).
func (c *Client) GetVisitTopdomainReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodVisitTopdomain, params))
}

// GetVisitDistrictReport fetches the China district report (visit/district/a).
func (c *Client) GetVisitDistrictReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodVisitDistrict, params))
}

// GetVisitWorldReport fetches the world district report (visit/world/a).
func (c *Client) GetVisitWorldReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodVisitWorld, params))
}

// GetOverviewTimeTrendReport fetches the overview time trend report (overview/getTimeTrendRpt).
func (c *Client) GetOverviewTimeTrendReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodOverviewTimeTrend, params))
}

// GetOverviewDistrictReport fetches the overview district report (overview/getDistrictRpt).
func (c *Client) GetOverviewDistrictReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodOverviewDistrict, params))
}

// GetOverviewCommonTrackReport fetches the overview common tracks report (overview/getCommonTrackRpt).
func (c *Client) GetOverviewCommonTrackReport(ctx context.Context, token TokenProvider, siteID string, params map[string]any) (map[string]any, error) {
	return c.GetReportData(ctx, token, withSiteAndMethod(siteID, MethodOverviewCommonTrack, params))
}

// withSiteAndMethod merges site_id and method into params; caller params win.
func withSiteAndMethod(siteID, method string, params map[string]any) map[string]any {
	merged := map[string]any{
		"site_id": siteID,
		"method":  method,
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

func paramString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func (c *Client) doGet(ctx context.Context, endpoint string, query url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, NewTransportError("failed to build request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("API request failed", slog.Any("error", err))
		return nil, NewTransportError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransportError("failed to read response body", err)
	}

	return c.handleResponse(resp.StatusCode, body)
}

func (c *Client) handleResponse(statusCode int, body []byte) (map[string]any, error) {
	c.logger.Debug("API response received",
		slog.Int("status_code", statusCode),
		slog.Int("response_size", len(body)))

	if statusCode != http.StatusOK {
		c.logger.Error("API request failed",
			slog.Int("status_code", statusCode),
			slog.String("response", string(body)))
		return nil, NewTransportError(fmt.Sprintf("API request failed with status %d", statusCode), nil)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, NewInvalidResponseError("invalid JSON response from API", err)
	}

	data, ok := raw.(map[string]any)
	if !ok {
		return nil, NewInvalidResponseError("API response is not a JSON object", nil)
	}

	if code, present := data["error_code"]; present {
		msg := "Unknown error"
		if m, ok := data["error_msg"]; ok {
			msg = scalarString(m)
		}
		codeStr := scalarString(code)
		c.logger.Error("API returned error",
			slog.String("error_code", codeStr),
			slog.String("error_msg", msg))
		return nil, NewProviderError(codeStr, msg)
	}

	return data, nil
}

func scalarString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return fmt.Sprint(s)
	case nil:
		return "unknown"
	default:
		return "unknown"
	}
}
