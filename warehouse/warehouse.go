// Package warehouse reads request logs from and writes predictions to the
// data warehouse.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"ratelimiter-trainer/config"
	"ratelimiter-trainer/models"
)

// Session is an open connection to the warehouse.
type Session interface {
	LoadRequests(ctx context.Context) ([]models.RequestLog, error)
	OverwritePredictions(ctx context.Context, preds []models.Prediction) (int64, error)
	SamplePredictions(ctx context.Context, limit int) ([]models.Prediction, error)
	Close() error
}

// Open connects to the configured warehouse and verifies the connection once.
func Open(ctx context.Context, cfg config.WarehouseConfig) (Session, error) {
	switch cfg.Driver {
	case config.DriverSnowflake:
		return OpenSnowflake(ctx, cfg)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported warehouse driver %q", cfg.Driver)
	}
}

// columnMap locates the request log columns in a SELECT * result.
type columnMap struct {
	names     []string
	timestamp int
	userID    int
	allowed   int
}

func mapColumns(names []string) (columnMap, error) {
	m := columnMap{names: names, timestamp: -1, userID: -1, allowed: -1}
	for i, name := range names {
		switch strings.ToUpper(name) {
		case models.ColumnTimestamp:
			m.timestamp = i
		case models.ColumnUserID:
			m.userID = i
		case models.ColumnAllowed:
			m.allowed = i
		}
	}

	var missing []string
	if m.timestamp < 0 {
		missing = append(missing, models.ColumnTimestamp)
	}
	if m.userID < 0 {
		missing = append(missing, models.ColumnUserID)
	}
	if m.allowed < 0 {
		missing = append(missing, models.ColumnAllowed)
	}
	if len(missing) > 0 {
		return m, fmt.Errorf("request table is missing columns: %s", strings.Join(missing, ", "))
	}
	return m, nil
}

func (m columnMap) decode(vals []any) (models.RequestLog, error) {
	allowed, err := models.CoerceBool(vals[m.allowed])
	if err != nil {
		return models.RequestLog{}, fmt.Errorf("column %s: %w", models.ColumnAllowed, err)
	}

	log := models.RequestLog{
		Timestamp: models.CoerceTimestamp(vals[m.timestamp]),
		UserID:    models.CoerceString(vals[m.userID]),
		Allowed:   allowed,
	}
	for i, v := range vals {
		if i == m.timestamp || i == m.userID || i == m.allowed {
			continue
		}
		if log.Extra == nil {
			log.Extra = make(map[string]any, len(vals)-3)
		}
		log.Extra[m.names[i]] = v
	}
	return log, nil
}

func decodePrediction(ts, user, allowed any) (models.Prediction, error) {
	predicted, err := models.CoerceBool(allowed)
	if err != nil {
		return models.Prediction{}, fmt.Errorf("column %s: %w", models.ColumnPredictedAllowed, err)
	}
	return models.Prediction{
		Timestamp:        models.CoerceTimestamp(ts),
		UserID:           models.CoerceString(user),
		PredictedAllowed: predicted,
	}, nil
}

// predictionColumns is the fixed destination schema, quoted.
var predictionColumns = []string{
	models.ColumnTimestamp,
	models.ColumnUserID,
	models.ColumnPredictedAllowed,
}

func quotedColumns() string {
	quoted := make([]string, len(predictionColumns))
	for i, c := range predictionColumns {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ", ")
}
