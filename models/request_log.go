package models

import (
	"database/sql"
	"time"
)

// Column names shared by the request log and prediction tables.
const (
	ColumnTimestamp        = "TIMESTAMP"
	ColumnUserID           = "USER_ID"
	ColumnAllowed          = "ALLOWED"
	ColumnPredictedAllowed = "PREDICTED_ALLOWED"
)

// RequestLog is one row of the historical request table.
type RequestLog struct {
	Timestamp sql.NullTime   `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Allowed   bool           `json:"allowed"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// FeatureRow is the numeric vector derived for one RequestLog.
type FeatureRow struct {
	HourOfDay int `json:"hour_of_day"`
	DayOfWeek int `json:"day_of_week"`
	PrevCount int `json:"prev_count"`
}

// Prediction is one row of the destination table.
type Prediction struct {
	Timestamp        sql.NullTime `json:"timestamp"`
	UserID           string       `json:"user_id"`
	PredictedAllowed bool         `json:"predicted_allowed"`
}

// FormatTimestamp renders a naive timestamp, or "NULL" when invalid.
func FormatTimestamp(ts sql.NullTime) string {
	if !ts.Valid {
		return "NULL"
	}
	return ts.Time.Format(TimestampLayout)
}

// TimestampLayout is the wall-clock layout written to the warehouse.
const TimestampLayout = "2006-01-02 15:04:05.999999999"

func naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
