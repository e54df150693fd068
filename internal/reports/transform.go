package reports

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"tongjisync/internal/tongji"
)

// TransformFunc maps a stored raw report into normalized fact rows. It is
// a pure function of the report's persisted params and response body.
type TransformFunc func(logger *slog.Logger, raw *RawReport) ([]FactTrafficTrend, error)

// transformRegistry dispatches on the report method. Only trend/time/a
// has a processing path; every other catalog method is an explicit no-op
// rather than a switch fallthrough.
var transformRegistry = map[string]TransformFunc{
	tongji.MethodTrendTime:           transformTrendTime,
	tongji.MethodTrendLatest:         noopTransform,
	tongji.MethodProProduct:          noopTransform,
	tongji.MethodProHour:             noopTransform,
	tongji.MethodSourceAll:           noopTransform,
	tongji.MethodSourceEngine:        noopTransform,
	tongji.MethodSourceSearchword:    noopTransform,
	tongji.MethodSourceLink:          noopTransform,
	tongji.MethodCustomMedia:         noopTransform,
	tongji.MethodVisitToppage:        noopTransform,
	tongji.MethodVisitLandingpage:    noopTransform,
	tongji.MethodVisitTopdomain:      noopTransform,
	tongji.MethodVisitDistrict:       noopTransform,
	tongji.MethodVisitWorld:          noopTransform,
	tongji.MethodOverviewTimeTrend:   noopTransform,
	tongji.MethodOverviewDistrict:    noopTransform,
	tongji.MethodOverviewCommonTrack: noopTransform,
}

// Transform derives fact rows from a raw report. An unknown method is a
// programming error; a malformed or empty response body is tolerated as
// zero facts so the raw data stays available for later reprocessing.
func Transform(logger *slog.Logger, raw *RawReport) ([]FactTrafficTrend, error) {
	fn, ok := transformRegistry[raw.Method]
	if !ok {
		return nil, tongji.NewUnknownMethodError(raw.Method)
	}
	return fn(logger, raw)
}

func noopTransform(_ *slog.Logger, _ *RawReport) ([]FactTrafficTrend, error) {
	return nil, nil
}

// Ratio and average columns kept as fixed-precision decimal strings; all
// other metric columns coerce to integers.
var trendTimeIntFields = []string{"pv_count", "visit_count", "visitor_count", "ip_count", "avg_visit_time", "trans_count"}
var trendTimeRatioFields = []string{"bounce_ratio", "avg_visit_pages", "trans_ratio"}

func transformTrendTime(logger *slog.Logger, raw *RawReport) ([]FactTrafficTrend, error) {
	data, err := raw.Data()
	if err != nil {
		return nil, tongji.NewInvalidResponseError("stored response body is not valid JSON", err)
	}

	result, _ := data["result"].(map[string]any)
	items, _ := result["items"].([]any)
	if len(items) == 0 {
		logger.Warn("Report returned no data",
			slog.String("method", raw.Method),
			slog.String("site_id", raw.SiteID))
		return nil, nil
	}

	fieldIdx, ok := fieldIndexMap(result["fields"])
	if !ok {
		logger.Warn("Report fields are malformed, skipping transformation",
			slog.String("method", raw.Method),
			slog.String("site_id", raw.SiteID))
		return nil, nil
	}

	params, err := raw.Params()
	if err != nil {
		return nil, tongji.NewInvalidResponseError("stored request params are not valid JSON", err)
	}

	gran := GranDay
	if g, ok := params["gran"].(string); ok {
		gran = g
	}

	var facts []FactTrafficTrend
	for _, entry := range items {
		item, ok := entry.([]any)
		if !ok {
			continue
		}
		fact, ok := factFromItem(logger, raw, item, fieldIdx, params, gran)
		if !ok {
			continue
		}
		facts = append(facts, fact)
	}

	return facts, nil
}

// fieldIndexMap builds the field-name to column-index map from the
// response's fields array. Returns false when the array is absent,
// empty, or contains non-string entries.
func fieldIndexMap(fields any) (map[string]int, bool) {
	list, ok := fields.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	idx := make(map[string]int, len(list))
	for i, f := range list {
		name, ok := f.(string)
		if !ok {
			return nil, false
		}
		idx[name] = i
	}
	return idx, true
}

func factFromItem(logger *slog.Logger, raw *RawReport, item []any, fieldIdx map[string]int, params map[string]any, gran string) (FactTrafficTrend, bool) {
	date, ok := parseItemDate(logger, item)
	if !ok {
		return FactTrafficTrend{}, false
	}

	fact := FactTrafficTrend{
		SiteID: raw.SiteID,
		Date:   date,
		Gran:   gran,
	}

	// Dimensional tags only apply when present and string-typed
	if source, ok := params["source"].(string); ok {
		fact.SourceType = &source
	}
	if device, ok := params["clientDevice"].(string); ok {
		fact.Device = &device
	}
	if area, ok := params["area"].(string); ok {
		fact.AreaScope = &area
	}

	setFactMetrics(&fact, item, fieldIdx)
	return fact, true
}

// parseItemDate extracts the row date; index 0 holds a one-element array
// wrapping the date string. A bad date skips the row, not the batch.
func parseItemDate(logger *slog.Logger, item []any) (time.Time, bool) {
	if len(item) == 0 {
		return time.Time{}, false
	}
	wrapper, ok := item[0].([]any)
	if !ok || len(wrapper) == 0 {
		logger.Warn("Item date field is not an array", slog.Any("date_field", item[0]))
		return time.Time{}, false
	}
	dateStr, ok := wrapper[0].(string)
	if !ok {
		logger.Warn("Item date field is not a string", slog.Any("date_field", wrapper[0]))
		return time.Time{}, false
	}

	date, err := parseReportDate(dateStr)
	if err != nil {
		logger.Warn("Failed to parse item date",
			slog.String("date_field", dateStr),
			slog.Any("error", err))
		return time.Time{}, false
	}
	return date, true
}

// reportDateLayouts covers the date encodings the provider emits across
// granularities.
var reportDateLayouts = []string{"2006-01-02", "2006/01/02", "20060102"}

func parseReportDate(s string) (time.Time, error) {
	for _, layout := range reportDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

func setFactMetrics(fact *FactTrafficTrend, item []any, fieldIdx map[string]int) {
	for _, field := range trendTimeIntFields {
		value, ok := metricValue(item, fieldIdx, field)
		if !ok {
			continue
		}
		n := coerceInt(value)
		switch field {
		case "pv_count":
			fact.PvCount = &n
		case "visit_count":
			fact.VisitCount = &n
		case "visitor_count":
			fact.VisitorCount = &n
		case "ip_count":
			fact.IpCount = &n
		case "avg_visit_time":
			seconds := int(n)
			fact.AvgVisitTime = &seconds
		case "trans_count":
			fact.TransCount = &n
		}
	}

	for _, field := range trendTimeRatioFields {
		value, ok := metricValue(item, fieldIdx, field)
		if !ok {
			continue
		}
		s := coerceDecimal(value)
		switch field {
		case "bounce_ratio":
			fact.BounceRatio = &s
		case "avg_visit_pages":
			fact.AvgVisitPages = &s
		case "trans_ratio":
			fact.TransRatio = &s
		}
	}
}

// metricValue looks up a column value by field name. Returns false for
// absent columns and for the provider's no-data sentinels.
func metricValue(item []any, fieldIdx map[string]int, field string) (any, bool) {
	idx, ok := fieldIdx[field]
	if !ok || idx < 0 || idx >= len(item) {
		return nil, false
	}
	value := item[idx]
	if value == nil {
		return nil, false
	}
	if s, ok := value.(string); ok && (s == "--" || s == "") {
		return nil, false
	}
	return value, true
}

// coerceInt parses a numeric value to an integer; a present value that is
// neither numeric nor a sentinel coerces to 0.
func coerceInt(value any) int64 {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// coerceDecimal renders a numeric value as a two-decimal string; a
// present value that is not numeric coerces to "0.00".
func coerceDecimal(value any) string {
	switch v := value.(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', 2, 64)
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 2, 64)
		}
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case int:
		return strconv.FormatFloat(float64(v), 'f', 2, 64)
	}
	return "0.00"
}
