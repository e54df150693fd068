// Package reports implements the report synchronization pipeline: raw
// API snapshots, response-hash deduplication, and the traffic-trend fact
// table derived from them.
package reports

import (
	"bytes"
	"encoding/json"
	"time"
)

// Sync status values recorded on a raw report.
const (
	SyncStatusProcessed = 1
	SyncStatusFailed    = 2
)

// RawReport is an immutable snapshot of one report API call. A repeat
// sync that produces the same response hash for the same key must not
// create a second row.
type RawReport struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	SiteID       string    `gorm:"size:128;not null;uniqueIndex:uk_raw_site_method_dates_hash"`
	Method       string    `gorm:"size:128;not null;uniqueIndex:uk_raw_site_method_dates_hash"`
	StartDate    time.Time `gorm:"not null;uniqueIndex:uk_raw_site_method_dates_hash"`
	EndDate      time.Time `gorm:"not null;uniqueIndex:uk_raw_site_method_dates_hash"`
	ParamsJSON   string    `gorm:"type:text"`
	Metrics      string    `gorm:"type:text"`
	DataJSON     string    `gorm:"type:text"`
	ResponseHash string    `gorm:"size:64;not null;uniqueIndex:uk_raw_site_method_dates_hash"`
	FetchedAt    time.Time `gorm:"not null"`
	ProcessedAt  *time.Time
	SyncStatus   *int
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// SetParams stores the request parameters as JSON.
func (r *RawReport) SetParams(params map[string]any) error {
	encoded, err := marshalUnescaped(params)
	if err != nil {
		return err
	}
	r.ParamsJSON = string(encoded)
	return nil
}

// Params decodes the stored request parameters.
func (r *RawReport) Params() (map[string]any, error) {
	return decodeJSONObject(r.ParamsJSON)
}

// SetData stores the raw response body as JSON.
func (r *RawReport) SetData(data map[string]any) error {
	encoded, err := marshalUnescaped(data)
	if err != nil {
		return err
	}
	r.DataJSON = string(encoded)
	return nil
}

// Data decodes the stored response body. Numbers are preserved as
// json.Number so numeric provider values round-trip exactly.
func (r *RawReport) Data() (map[string]any, error) {
	return decodeJSONObject(r.DataJSON)
}

func decodeJSONObject(encoded string) (map[string]any, error) {
	if encoded == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(encoded)))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// Granularity values of a fact row.
const (
	GranDay   = "day"
	GranWeek  = "week"
	GranMonth = "month"
)

// Device values of a fact row.
const (
	DevicePC     = "pc"
	DeviceMobile = "mobile"
)

// FactTrafficTrend is one normalized metrics row per
// (site, date, granularity, source, device, area) combination. Rows are
// only ever inserted; corrections from upstream arrive as new raw
// reports, never as updates here.
type FactTrafficTrend struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	SiteID     string    `gorm:"size:128;not null;uniqueIndex:uk_fact_site_date_gran_dims"`
	Date       time.Time `gorm:"not null;uniqueIndex:uk_fact_site_date_gran_dims"`
	Gran       string    `gorm:"size:32;not null;uniqueIndex:uk_fact_site_date_gran_dims"`
	SourceType *string   `gorm:"size:64;uniqueIndex:uk_fact_site_date_gran_dims"`
	Device     *string   `gorm:"size:32;uniqueIndex:uk_fact_site_date_gran_dims"`
	AreaScope  *string   `gorm:"size:64;uniqueIndex:uk_fact_site_date_gran_dims"`

	PvCount       *int64
	VisitCount    *int64
	VisitorCount  *int64
	IpCount       *int64
	BounceRatio   *string `gorm:"type:decimal(5,2)"`
	AvgVisitTime  *int
	AvgVisitPages *string `gorm:"type:decimal(8,2)"`
	TransCount    *int64
	TransRatio    *string `gorm:"type:decimal(5,2)"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// FactViolation describes a single validation failure on a fact field.
type FactViolation struct {
	Field   string
	Message string
}

// Validate checks the fact's field constraints before persistence.
func (f *FactTrafficTrend) Validate() []FactViolation {
	var violations []FactViolation
	if f.SiteID == "" {
		violations = append(violations, FactViolation{Field: "siteId", Message: "must not be blank"})
	}
	switch f.Gran {
	case GranDay, GranWeek, GranMonth:
	default:
		violations = append(violations, FactViolation{Field: "gran", Message: "must be one of day, week, month"})
	}
	if f.Device != nil {
		switch *f.Device {
		case DevicePC, DeviceMobile:
		default:
			violations = append(violations, FactViolation{Field: "device", Message: "must be pc or mobile"})
		}
	}
	return violations
}
