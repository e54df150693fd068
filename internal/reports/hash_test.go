package reports_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tongjisync/internal/reports"
)

func TestResponseHash(t *testing.T) {
	params := map[string]any{
		"site_id":    "101",
		"method":     "trend/time/a",
		"start_date": "2024-01-01",
		"end_date":   "2024-01-07",
	}
	data := map[string]any{
		"result": map[string]any{
			"fields": []any{"simple_date_title", "pv_count"},
			"items":  []any{[]any{[]any{"2024-01-01"}, float64(1000)}},
		},
	}

	t.Run("is deterministic", func(t *testing.T) {
		first, err := reports.ResponseHash(params, data)
		require.NoError(t, err)
		second, err := reports.ResponseHash(params, data)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Len(t, first, 64)
	})

	t.Run("ignores map insertion order", func(t *testing.T) {
		reordered := map[string]any{
			"end_date":   "2024-01-07",
			"start_date": "2024-01-01",
			"method":     "trend/time/a",
			"site_id":    "101",
		}

		first, err := reports.ResponseHash(params, data)
		require.NoError(t, err)
		second, err := reports.ResponseHash(reordered, data)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("diverges on different response data", func(t *testing.T) {
		changed := map[string]any{
			"result": map[string]any{
				"fields": []any{"simple_date_title", "pv_count"},
				"items":  []any{[]any{[]any{"2024-01-01"}, float64(1001)}},
			},
		}

		first, err := reports.ResponseHash(params, data)
		require.NoError(t, err)
		second, err := reports.ResponseHash(params, changed)
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})

	t.Run("diverges on different request params", func(t *testing.T) {
		changed := map[string]any{
			"site_id":    "101",
			"method":     "trend/time/a",
			"start_date": "2024-01-02",
			"end_date":   "2024-01-07",
		}

		first, err := reports.ResponseHash(params, data)
		require.NoError(t, err)
		second, err := reports.ResponseHash(changed, data)
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})

	t.Run("handles unicode and urls", func(t *testing.T) {
		withUnicode := map[string]any{
			"result": map[string]any{
				"fields": []any{"name"},
				"items":  []any{[]any{"北京"}, []any{"https://example.com/path?a=1&b=2"}},
			},
		}

		first, err := reports.ResponseHash(params, withUnicode)
		require.NoError(t, err)
		second, err := reports.ResponseHash(params, withUnicode)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}
