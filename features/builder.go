// Package features derives the classifier inputs from request log rows.
package features

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"ratelimiter-trainer/models"
)

// Column order of the feature matrix.
var Columns = []string{"hour_of_day", "day_of_week", "prev_count"}

// Build derives one FeatureRow per log, in input order. PrevCount is the
// Allowed value of the same user's previous row in that order, 0 for the
// user's first row. Rows are not sorted by timestamp first.
func Build(logs []models.RequestLog) ([]models.FeatureRow, error) {
	rows := make([]models.FeatureRow, len(logs))
	last := make(map[string]bool, len(logs))

	for i, l := range logs {
		if !l.Timestamp.Valid {
			return nil, fmt.Errorf("row %d (user %q): timestamp is null or unparseable", i, l.UserID)
		}
		prev := 0
		if allowed, seen := last[l.UserID]; seen && allowed {
			prev = 1
		}
		rows[i] = models.FeatureRow{
			HourOfDay: l.Timestamp.Time.Hour(),
			DayOfWeek: weekdayIndex(l.Timestamp.Time.Weekday()),
			PrevCount: prev,
		}
		last[l.UserID] = l.Allowed
	}
	return rows, nil
}

// weekdayIndex maps Go's Sunday-first weekday to 0=Monday..6=Sunday.
func weekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Matrix lays rows out as an n x 3 matrix in Columns order.
func Matrix(rows []models.FeatureRow) *mat.Dense {
	if len(rows) == 0 {
		return nil
	}
	data := make([]float64, 0, len(rows)*len(Columns))
	for _, r := range rows {
		data = append(data, float64(r.HourOfDay), float64(r.DayOfWeek), float64(r.PrevCount))
	}
	return mat.NewDense(len(rows), len(Columns), data)
}

func Labels(logs []models.RequestLog) []bool {
	labels := make([]bool, len(logs))
	for i, l := range logs {
		labels[i] = l.Allowed
	}
	return labels
}
