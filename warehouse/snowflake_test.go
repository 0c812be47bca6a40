package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratelimiter-trainer/config"
	"ratelimiter-trainer/models"
)

const (
	createPredictions = `CREATE OR REPLACE TABLE PREDICTIONS ("TIMESTAMP" TIMESTAMP_NTZ, "USER_ID" VARCHAR, "PREDICTED_ALLOWED" BOOLEAN)`
	insertPrefix      = `INSERT INTO PREDICTIONS ("TIMESTAMP", "USER_ID", "PREDICTED_ALLOWED") VALUES `
	insertTuple       = `(TO_TIMESTAMP_NTZ(?), ?, ?)`
)

func newMockWarehouse(t *testing.T) (*SQLWarehouse, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLWarehouse(db, "REQUESTS", "PREDICTIONS"), mock
}

func insertQuery(tuples int) string {
	parts := make([]string, tuples)
	for i := range parts {
		parts[i] = insertTuple
	}
	return insertPrefix + strings.Join(parts, ", ")
}

func TestLoadRequests(t *testing.T) {
	w, mock := newMockWarehouse(t)
	ts := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"TIMESTAMP", "user_id", "ALLOWED", "ENDPOINT"}).
		AddRow(ts, "U1", true, "/api/predict").
		AddRow("2024-01-01 10:00:00", "U2", int64(0), "/api/predict").
		AddRow(nil, "U3", "1", nil)
	mock.ExpectQuery("SELECT * FROM REQUESTS").WillReturnRows(rows)

	logs, err := w.LoadRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 3)

	assert.True(t, logs[0].Timestamp.Valid)
	assert.Equal(t, ts, logs[0].Timestamp.Time)
	assert.Equal(t, "U1", logs[0].UserID)
	assert.True(t, logs[0].Allowed)
	assert.Equal(t, "/api/predict", logs[0].Extra["ENDPOINT"])

	assert.Equal(t, 10, logs[1].Timestamp.Time.Hour())
	assert.False(t, logs[1].Allowed)

	assert.False(t, logs[2].Timestamp.Valid)
	assert.True(t, logs[2].Allowed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRequestsEmpty(t *testing.T) {
	w, mock := newMockWarehouse(t)
	mock.ExpectQuery("SELECT * FROM REQUESTS").
		WillReturnRows(sqlmock.NewRows([]string{"TIMESTAMP", "USER_ID", "ALLOWED"}))

	logs, err := w.LoadRequests(context.Background())
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestLoadRequestsMissingColumns(t *testing.T) {
	w, mock := newMockWarehouse(t)
	mock.ExpectQuery("SELECT * FROM REQUESTS").
		WillReturnRows(sqlmock.NewRows([]string{"TIMESTAMP", "ENDPOINT"}).AddRow(time.Now(), "/x"))

	_, err := w.LoadRequests(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USER_ID, ALLOWED")
}

func TestLoadRequestsBadAllowed(t *testing.T) {
	w, mock := newMockWarehouse(t)
	mock.ExpectQuery("SELECT * FROM REQUESTS").
		WillReturnRows(sqlmock.NewRows([]string{"TIMESTAMP", "USER_ID", "ALLOWED"}).AddRow(time.Now(), "U1", nil))

	_, err := w.LoadRequests(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 0")
}

func TestLoadRequestsQueryError(t *testing.T) {
	w, mock := newMockWarehouse(t)
	mock.ExpectQuery("SELECT * FROM REQUESTS").WillReturnError(errors.New("table does not exist"))

	_, err := w.LoadRequests(context.Background())
	assert.ErrorContains(t, err, "table does not exist")
}

func TestOverwritePredictions(t *testing.T) {
	w, mock := newMockWarehouse(t)
	w.batchSize = 2

	preds := []models.Prediction{
		{Timestamp: sql.NullTime{Time: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), Valid: true}, UserID: "U1", PredictedAllowed: true},
		{UserID: "U2", PredictedAllowed: false},
		{Timestamp: sql.NullTime{Time: time.Date(2024, 1, 2, 18, 5, 30, 0, time.UTC), Valid: true}, UserID: "U1", PredictedAllowed: false},
	}

	mock.ExpectExec(createPredictions).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(insertQuery(2)).
		WithArgs("2024-01-01 09:00:00", "U1", true, nil, "U2", false).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(insertQuery(1)).
		WithArgs("2024-01-02 18:05:30", "U1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := w.OverwritePredictions(context.Background(), preds)
	require.NoError(t, err)
	assert.Equal(t, int64(len(preds)), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverwritePredictionsRollsBackOnError(t *testing.T) {
	w, mock := newMockWarehouse(t)

	mock.ExpectExec(createPredictions).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(insertQuery(1)).WillReturnError(errors.New("warehouse suspended"))
	mock.ExpectRollback()

	_, err := w.OverwritePredictions(context.Background(), []models.Prediction{{UserID: "U1"}})
	assert.ErrorContains(t, err, "warehouse suspended")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSamplePredictions(t *testing.T) {
	w, mock := newMockWarehouse(t)
	ts := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT "TIMESTAMP", "USER_ID", "PREDICTED_ALLOWED" FROM PREDICTIONS LIMIT 5`).
		WillReturnRows(sqlmock.NewRows([]string{"TIMESTAMP", "USER_ID", "PREDICTED_ALLOWED"}).
			AddRow(ts, "U1", true).
			AddRow(nil, "U2", false))

	sample, err := w.SamplePredictions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sample, 2)
	assert.Equal(t, ts, sample[0].Timestamp.Time)
	assert.True(t, sample[0].PredictedAllowed)
	assert.False(t, sample[1].Timestamp.Valid)
	assert.Equal(t, "U2", sample[1].UserID)
}

func TestSnowflakeDSN(t *testing.T) {
	dsn, err := SnowflakeDSN(config.WarehouseConfig{
		Account:   "acct-1",
		User:      "loader",
		Password:  "secret",
		Warehouse: "COMPUTE_WH",
		Database:  "API_RATE_LIMITER",
		Schema:    "REQUEST_LOGS",
	})
	require.NoError(t, err)
	assert.Contains(t, dsn, "loader:secret@")
	assert.Contains(t, dsn, "warehouse=COMPUTE_WH")
	assert.Contains(t, dsn, "database=API_RATE_LIMITER")
	assert.Contains(t, dsn, "schema=REQUEST_LOGS")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.WarehouseConfig{Driver: "bigquery"})
	assert.ErrorContains(t, err, "unsupported warehouse driver")
}
