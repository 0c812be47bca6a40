package models

import (
	"database/sql"
	"testing"
	"time"
)

func TestCoerceTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		in    any
		valid bool
	}{
		{"time value", want, true},
		{"space layout", "2024-03-05 14:30:00", true},
		{"T layout", "2024-03-05T14:30:00", true},
		{"rfc3339 keeps wall clock", "2024-03-05T14:30:00+02:00", true},
		{"bytes", []byte("2024-03-05 14:30:00"), true},
		{"nil", nil, false},
		{"empty string", "", false},
		{"garbage", "not-a-timestamp", false},
		{"unsupported type", 42, false},
		{"null time", sql.NullTime{}, false},
		{"valuer string", sql.NullString{String: "2024-03-05 14:30:00", Valid: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CoerceTimestamp(tt.in)
			if got.Valid != tt.valid {
				t.Fatalf("CoerceTimestamp(%v).Valid = %v, want %v", tt.in, got.Valid, tt.valid)
			}
			if tt.valid && !got.Time.Equal(want) {
				t.Errorf("CoerceTimestamp(%v) = %v, want %v", tt.in, got.Time, want)
			}
		})
	}
}

func TestCoerceTimestampDropsZone(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	got := CoerceTimestamp(time.Date(2024, 1, 1, 23, 15, 0, 0, loc))
	if got.Time.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Time.Location())
	}
	if got.Time.Hour() != 23 {
		t.Errorf("hour = %d, want 23", got.Time.Hour())
	}
}

func TestCoerceBool(t *testing.T) {
	tests := []struct {
		in      any
		want    bool
		wantErr bool
	}{
		{true, true, false},
		{false, false, false},
		{int64(1), true, false},
		{int64(0), false, false},
		{float64(2), true, false},
		{"TRUE", true, false},
		{"f", false, false},
		{"1.000", true, false},
		{"0", false, false},
		{[]byte("yes"), true, false},
		{nil, false, true},
		{"maybe", false, true},
		{struct{}{}, false, true},
		{sql.NullBool{Bool: true, Valid: true}, true, false},
		{sql.NullInt64{}, false, true},
	}
	for _, tt := range tests {
		got, err := CoerceBool(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CoerceBool(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CoerceBool(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	if got := FormatTimestamp(sql.NullTime{}); got != "NULL" {
		t.Errorf("FormatTimestamp(invalid) = %q, want NULL", got)
	}
	ts := sql.NullTime{Time: time.Date(2024, 3, 5, 14, 30, 0, 500, time.UTC), Valid: true}
	if got := FormatTimestamp(ts); got != "2024-03-05 14:30:00.0000005" {
		t.Errorf("FormatTimestamp() = %q", got)
	}
}
