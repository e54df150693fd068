package reports_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tongjisync/internal/reports"
	"tongjisync/internal/testsupport"
	"tongjisync/internal/tongji"
)

func buildRawReport(t *testing.T, params map[string]any, data map[string]any) *reports.RawReport {
	t.Helper()

	raw := &reports.RawReport{
		SiteID: "101",
		Method: tongji.MethodTrendTime,
	}
	require.NoError(t, raw.SetParams(params))
	require.NoError(t, raw.SetData(data))
	return raw
}

func TestTransformTrendTime(t *testing.T) {
	logger := testsupport.GetLogger()
	baseParams := map[string]any{
		"site_id":    "101",
		"method":     tongji.MethodTrendTime,
		"start_date": "2024-01-01",
		"end_date":   "2024-01-07",
	}

	t.Run("maps a full row into a fact", func(t *testing.T) {
		payload := testsupport.TrendTimePayload([]any{
			testsupport.TrendTimeRow("2024-01-01",
				1000, 800, 600, 580, "45.50", 180, "2.50", 15, "1.88"),
		})
		raw := buildRawReport(t, baseParams, payload)

		facts, err := reports.Transform(logger, raw)
		require.NoError(t, err)
		require.Len(t, facts, 1)

		fact := facts[0]
		assert.Equal(t, "101", fact.SiteID)
		assert.Equal(t, "2024-01-01", fact.Date.Format("2006-01-02"))
		assert.Equal(t, reports.GranDay, fact.Gran)
		require.NotNil(t, fact.PvCount)
		assert.Equal(t, int64(1000), *fact.PvCount)
		require.NotNil(t, fact.VisitCount)
		assert.Equal(t, int64(800), *fact.VisitCount)
		require.NotNil(t, fact.VisitorCount)
		assert.Equal(t, int64(600), *fact.VisitorCount)
		require.NotNil(t, fact.IpCount)
		assert.Equal(t, int64(580), *fact.IpCount)
		require.NotNil(t, fact.BounceRatio)
		assert.Equal(t, "45.50", *fact.BounceRatio)
		require.NotNil(t, fact.AvgVisitTime)
		assert.Equal(t, 180, *fact.AvgVisitTime)
		require.NotNil(t, fact.AvgVisitPages)
		assert.Equal(t, "2.50", *fact.AvgVisitPages)
		require.NotNil(t, fact.TransCount)
		assert.Equal(t, int64(15), *fact.TransCount)
		require.NotNil(t, fact.TransRatio)
		assert.Equal(t, "1.88", *fact.TransRatio)
	})

	t.Run("no-data sentinels become nil metrics", func(t *testing.T) {
		payload := testsupport.TrendTimePayload([]any{
			testsupport.TrendTimeRow("2024-01-02",
				1200, "--", "", nil, "--", "--", "--", "--", "--"),
		})
		raw := buildRawReport(t, baseParams, payload)

		facts, err := reports.Transform(logger, raw)
		require.NoError(t, err)
		require.Len(t, facts, 1)

		fact := facts[0]
		require.NotNil(t, fact.PvCount)
		assert.Equal(t, int64(1200), *fact.PvCount)
		assert.Nil(t, fact.VisitCount)
		assert.Nil(t, fact.VisitorCount)
		assert.Nil(t, fact.IpCount)
		assert.Nil(t, fact.BounceRatio)
		assert.Nil(t, fact.AvgVisitTime)
		assert.Nil(t, fact.AvgVisitPages)
		assert.Nil(t, fact.TransCount)
		assert.Nil(t, fact.TransRatio)
	})

	t.Run("non-numeric values fall back to zero", func(t *testing.T) {
		payload := testsupport.TrendTimePayload([]any{
			testsupport.TrendTimeRow("2024-01-03",
				"garbage", 800, 600, 580, "garbage", 180, "2.50", 15, "1.88"),
		})
		raw := buildRawReport(t, baseParams, payload)

		facts, err := reports.Transform(logger, raw)
		require.NoError(t, err)
		require.Len(t, facts, 1)

		fact := facts[0]
		require.NotNil(t, fact.PvCount)
		assert.Equal(t, int64(0), *fact.PvCount)
		require.NotNil(t, fact.BounceRatio)
		assert.Equal(t, "0.00", *fact.BounceRatio)
	})

	t.Run("row with unparseable date is skipped, batch survives", func(t *testing.T) {
		payload := testsupport.TrendTimePayload([]any{
			testsupport.TrendTimeRow("not-a-date",
				1000, 800, 600, 580, "45.50", 180, "2.50", 15, "1.88"),
			testsupport.TrendTimeRow("2024-01-04",
				500, 400, 300, 280, "40.00", 120, "2.00", 5, "1.25"),
		})
		raw := buildRawReport(t, baseParams, payload)

		facts, err := reports.Transform(logger, raw)
		require.NoError(t, err)
		require.Len(t, facts, 1)
		assert.Equal(t, "2024-01-04", facts[0].Date.Format("2006-01-02"))
	})

	t.Run("accepts slash and compact date formats", func(t *testing.T) {
		payload := testsupport.TrendTimePayload([]any{
			testsupport.TrendTimeRow("2024/01/05",
				100, 80, 60, 58, "45.50", 18, "2.50", 1, "1.00"),
			testsupport.TrendTimeRow("20240106",
				200, 160, 120, 116, "45.50", 36, "2.50", 2, "1.00"),
		})
		raw := buildRawReport(t, baseParams, payload)

		facts, err := reports.Transform(logger, raw)
		require.NoError(t, err)
		require.Len(t, facts, 2)
		assert.Equal(t, "2024-01-05", facts[0].Date.Format("2006-01-02"))
		assert.Equal(t, "2024-01-06", facts[1].Date.Format("2006-01-02"))
	})

	t.Run("empty items yield no facts and no error", func(t *testing.T) {
		raw := buildRawReport(t, baseParams, testsupport.TrendTimePayload(nil))

		facts, err := reports.Transform(logger, raw)
		require.NoError(t, err)
		assert.Empty(t, facts)
	})

	t.Run("malformed fields array yields no facts and no error", func(t *testing.T) {
		payload := map[string]any{
			"result": map[string]any{
				"fields": []any{"simple_date_title", 42},
				"items": []any{
					testsupport.TrendTimeRow("2024-01-01", 1000),
				},
			},
		}
		raw := buildRawReport(t, baseParams, payload)

		facts, err := reports.Transform(logger, raw)
		require.NoError(t, err)
		assert.Empty(t, facts)
	})

	t.Run("granularity and dimensions come from the request params", func(t *testing.T) {
		params := map[string]any{
			"site_id":      "101",
			"method":       tongji.MethodTrendTime,
			"start_date":   "2024-01-01",
			"end_date":     "2024-01-07",
			"gran":         reports.GranWeek,
			"source":       "search",
			"clientDevice": reports.DevicePC,
			"area":         "china",
		}
		payload := testsupport.TrendTimePayload([]any{
			testsupport.TrendTimeRow("2024-01-01",
				1000, 800, 600, 580, "45.50", 180, "2.50", 15, "1.88"),
		})
		raw := buildRawReport(t, params, payload)

		facts, err := reports.Transform(logger, raw)
		require.NoError(t, err)
		require.Len(t, facts, 1)

		fact := facts[0]
		assert.Equal(t, reports.GranWeek, fact.Gran)
		require.NotNil(t, fact.SourceType)
		assert.Equal(t, "search", *fact.SourceType)
		require.NotNil(t, fact.Device)
		assert.Equal(t, reports.DevicePC, *fact.Device)
		require.NotNil(t, fact.AreaScope)
		assert.Equal(t, "china", *fact.AreaScope)
	})
}

func TestTransformUnknownMethod(t *testing.T) {
	raw := &reports.RawReport{SiteID: "101", Method: "made/up/report"}

	facts, err := reports.Transform(testsupport.GetLogger(), raw)
	assert.Nil(t, facts)
	require.Error(t, err)
	assert.True(t, tongji.IsKind(err, tongji.ErrKindUnknownMethod))
}

func TestTransformCatalogMethodsWithoutProcessing(t *testing.T) {
	raw := &reports.RawReport{SiteID: "101", Method: tongji.MethodVisitToppage}
	require.NoError(t, raw.SetData(map[string]any{"result": map[string]any{}}))

	facts, err := reports.Transform(testsupport.GetLogger(), raw)
	require.NoError(t, err)
	assert.Empty(t, facts)
}
