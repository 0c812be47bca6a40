package models

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02",
}

// CoerceTimestamp converts a driver value into a timezone-naive timestamp.
// Values that cannot be interpreted yield an invalid NullTime instead of an error.
func CoerceTimestamp(v any) sql.NullTime {
	switch t := v.(type) {
	case time.Time:
		return sql.NullTime{Time: naive(t), Valid: true}
	case *time.Time:
		if t == nil {
			return sql.NullTime{}
		}
		return sql.NullTime{Time: naive(*t), Valid: true}
	case sql.NullTime:
		if !t.Valid {
			return sql.NullTime{}
		}
		return sql.NullTime{Time: naive(t.Time), Valid: true}
	case string:
		return parseTimestamp(t)
	case []byte:
		return parseTimestamp(string(t))
	case driver.Valuer:
		inner, err := t.Value()
		if err != nil {
			return sql.NullTime{}
		}
		return CoerceTimestamp(inner)
	default:
		return sql.NullTime{}
	}
}

func parseTimestamp(s string) sql.NullTime {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullTime{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return sql.NullTime{Time: naive(t), Valid: true}
		}
	}
	return sql.NullTime{}
}

// CoerceBool converts a boolean or ordinal driver value.
func CoerceBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case int8:
		return b != 0, nil
	case int16:
		return b != 0, nil
	case int32:
		return b != 0, nil
	case int64:
		return b != 0, nil
	case uint8:
		return b != 0, nil
	case uint16:
		return b != 0, nil
	case uint32:
		return b != 0, nil
	case uint64:
		return b != 0, nil
	case float32:
		return b != 0, nil
	case float64:
		return b != 0, nil
	case string:
		return parseBool(b)
	case []byte:
		return parseBool(string(b))
	case nil:
		return false, fmt.Errorf("null boolean value")
	case driver.Valuer:
		inner, err := b.Value()
		if err != nil {
			return false, err
		}
		return CoerceBool(inner)
	default:
		return false, fmt.Errorf("unsupported boolean value of type %T", v)
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	}
	// Snowflake NUMBER columns arrive as decimal strings such as "1.000".
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f != 0, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", s)
}

// CoerceString converts a driver value into its string form; NULL becomes "".
func CoerceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}
