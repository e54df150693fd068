package tongji_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tongjisync/internal/testsupport"
	"tongjisync/internal/tongji"
)

// staticToken is a TokenProvider for tests.
type staticToken struct {
	token   string
	uid     string
	expired bool
}

func (s *staticToken) IsTokenExpired() bool { return s.expired }
func (s *staticToken) AccessToken() string  { return s.token }
func (s *staticToken) UserID() string       { return s.uid }

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestGetSiteList(t *testing.T) {
	token := &staticToken{token: "token-abc", uid: "uid-1"}

	t.Run("returns the decoded site list", func(t *testing.T) {
		var gotPath, gotToken string
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotToken = r.URL.Query().Get("access_token")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"list": []any{
					map[string]any{"site_id": 101, "domain": "example.com", "status": 0},
				},
			})
		})

		client := tongji.NewClient(server.URL, time.Second, testsupport.GetLogger())
		data, err := client.GetSiteList(context.Background(), token)

		require.NoError(t, err)
		assert.Equal(t, "/config/getSiteList", gotPath)
		assert.Equal(t, "token-abc", gotToken)
		list, ok := data["list"].([]any)
		require.True(t, ok)
		assert.Len(t, list, 1)
	})

	t.Run("expired token fails fast without a request", func(t *testing.T) {
		requests := 0
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			requests++
			w.Write([]byte("{}"))
		})

		client := tongji.NewClient(server.URL, time.Second, testsupport.GetLogger())
		expired := &staticToken{token: "stale", uid: "uid-1", expired: true}

		data, err := client.GetSiteList(context.Background(), expired)
		assert.Nil(t, data)
		require.Error(t, err)
		assert.True(t, tongji.IsKind(err, tongji.ErrKindTokenExpired))
		assert.Equal(t, 0, requests)
	})

	t.Run("provider envelope error becomes a provider error", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"error_code": 110, "error_msg": "Access token invalid or no longer valid"}`))
		})

		client := tongji.NewClient(server.URL, time.Second, testsupport.GetLogger())
		data, err := client.GetSiteList(context.Background(), token)

		assert.Nil(t, data)
		require.Error(t, err)
		assert.True(t, tongji.IsKind(err, tongji.ErrKindProviderError))
		assert.Contains(t, err.Error(), "110")
	})

	t.Run("non-200 status becomes a transport error", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		client := tongji.NewClient(server.URL, time.Second, testsupport.GetLogger())
		_, err := client.GetSiteList(context.Background(), token)

		require.Error(t, err)
		assert.True(t, tongji.IsKind(err, tongji.ErrKindTransport))
	})

	t.Run("non-object response is rejected", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[1, 2, 3]`))
		})

		client := tongji.NewClient(server.URL, time.Second, testsupport.GetLogger())
		_, err := client.GetSiteList(context.Background(), token)

		require.Error(t, err)
		assert.True(t, tongji.IsKind(err, tongji.ErrKindInvalidResponse))
	})
}

func TestGetReportData(t *testing.T) {
	token := &staticToken{token: "token-abc", uid: "uid-1"}

	t.Run("sends params as query string", func(t *testing.T) {
		var got map[string]string
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			got = map[string]string{}
			for k := range r.URL.Query() {
				got[k] = r.URL.Query().Get(k)
			}
			assert.Equal(t, "/report/getData", r.URL.Path)
			w.Write([]byte(`{"result": {"fields": [], "items": []}}`))
		})

		client := tongji.NewClient(server.URL, time.Second, testsupport.GetLogger())
		_, err := client.GetReportData(context.Background(), token, map[string]any{
			"site_id":     "101",
			"method":      tongji.MethodTrendTime,
			"start_date":  "2024-01-01",
			"end_date":    "2024-01-07",
			"metrics":     "pv_count",
			"max_results": 0,
		})

		require.NoError(t, err)
		assert.Equal(t, "token-abc", got["access_token"])
		assert.Equal(t, "101", got["site_id"])
		assert.Equal(t, tongji.MethodTrendTime, got["method"])
		assert.Equal(t, "2024-01-01", got["start_date"])
		assert.Equal(t, "0", got["max_results"])
	})

	t.Run("method wrappers fix site and method but caller params win", func(t *testing.T) {
		var gotMethod, gotSite, gotGran string
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.URL.Query().Get("method")
			gotSite = r.URL.Query().Get("site_id")
			gotGran = r.URL.Query().Get("gran")
			w.Write([]byte(`{"result": {}}`))
		})

		client := tongji.NewClient(server.URL, time.Second, testsupport.GetLogger())
		_, err := client.GetTrendTimeReport(context.Background(), token, "101", map[string]any{
			"gran":    "week",
			"site_id": "999",
		})

		require.NoError(t, err)
		assert.Equal(t, tongji.MethodTrendTime, gotMethod)
		assert.Equal(t, "999", gotSite)
		assert.Equal(t, "week", gotGran)
	})

	t.Run("numbers survive decoding without float drift", func(t *testing.T) {
		server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result": {"sum": [9007199254740993]}}`))
		})

		client := tongji.NewClient(server.URL, time.Second, testsupport.GetLogger())
		data, err := client.GetReportData(context.Background(), token, map[string]any{"site_id": "101"})
		require.NoError(t, err)

		result := data["result"].(map[string]any)
		sum := result["sum"].([]any)
		n, ok := sum[0].(json.Number)
		require.True(t, ok)
		v, err := n.Int64()
		require.NoError(t, err)
		assert.Equal(t, int64(9007199254740993), v)
	})
}
