package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/snowflakedb/gosnowflake"

	"ratelimiter-trainer/config"
	"ratelimiter-trainer/models"
)

const insertBatchSize = 1000

// SQLWarehouse is a Snowflake session over database/sql.
type SQLWarehouse struct {
	db          *sql.DB
	sourceTable string
	destTable   string
	batchSize   int
}

func NewSQLWarehouse(db *sql.DB, sourceTable, destTable string) *SQLWarehouse {
	return &SQLWarehouse{
		db:          db,
		sourceTable: sourceTable,
		destTable:   destTable,
		batchSize:   insertBatchSize,
	}
}

// SnowflakeDSN builds the driver DSN from the connection parameters.
func SnowflakeDSN(cfg config.WarehouseConfig) (string, error) {
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Warehouse: cfg.Warehouse,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Role:      cfg.Role,
	})
}

// OpenSnowflake authenticates once; there is no retry.
func OpenSnowflake(ctx context.Context, cfg config.WarehouseConfig) (*SQLWarehouse, error) {
	dsn, err := SnowflakeDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("build snowflake dsn: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snowflake: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect snowflake account %s: %w", cfg.Account, err)
	}
	return NewSQLWarehouse(db, cfg.SourceTable, cfg.DestTable), nil
}

func (w *SQLWarehouse) LoadRequests(ctx context.Context) ([]models.RequestLog, error) {
	rows, err := w.db.QueryContext(ctx, "SELECT * FROM "+w.sourceTable)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", w.sourceTable, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", w.sourceTable, err)
	}
	cols, err := mapColumns(names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.sourceTable, err)
	}

	var logs []models.RequestLog
	vals := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s row %d: %w", w.sourceTable, len(logs), err)
		}
		l, err := cols.decode(vals)
		if err != nil {
			return nil, fmt.Errorf("decode %s row %d: %w", w.sourceTable, len(logs), err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", w.sourceTable, err)
	}
	return logs, nil
}

// OverwritePredictions replaces the destination table with preds. The table
// is recreated with the prediction schema before the rows are inserted.
func (w *SQLWarehouse) OverwritePredictions(ctx context.Context, preds []models.Prediction) (int64, error) {
	create := fmt.Sprintf(`CREATE OR REPLACE TABLE %s ("%s" TIMESTAMP_NTZ, "%s" VARCHAR, "%s" BOOLEAN)`,
		w.destTable, models.ColumnTimestamp, models.ColumnUserID, models.ColumnPredictedAllowed)
	if _, err := w.db.ExecContext(ctx, create); err != nil {
		return 0, fmt.Errorf("create %s: %w", w.destTable, err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin write to %s: %w", w.destTable, err)
	}
	defer tx.Rollback()

	var written int64
	for start := 0; start < len(preds); start += w.batchSize {
		batch := preds[start:min(start+w.batchSize, len(preds))]
		query, args := w.insertStatement(batch)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("insert into %s (batch at row %d): %w", w.destTable, start, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = int64(len(batch))
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit write to %s: %w", w.destTable, err)
	}
	return written, nil
}

func (w *SQLWarehouse) insertStatement(batch []models.Prediction) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", w.destTable, quotedColumns())
	args := make([]any, 0, len(batch)*3)
	for i, p := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(TO_TIMESTAMP_NTZ(?), ?, ?)")
		args = append(args, timestampArg(p), p.UserID, p.PredictedAllowed)
	}
	return sb.String(), args
}

// timestampArg binds a naive timestamp as text, NULL when invalid.
func timestampArg(p models.Prediction) any {
	if !p.Timestamp.Valid {
		return nil
	}
	return p.Timestamp.Time.Format(models.TimestampLayout)
}

func (w *SQLWarehouse) SamplePredictions(ctx context.Context, limit int) ([]models.Prediction, error) {
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT %d", quotedColumns(), w.destTable, limit)
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", w.destTable, err)
	}
	defer rows.Close()

	var out []models.Prediction
	for rows.Next() {
		var ts, user, allowed any
		if err := rows.Scan(&ts, &user, &allowed); err != nil {
			return nil, fmt.Errorf("scan %s: %w", w.destTable, err)
		}
		p, err := decodePrediction(ts, user, allowed)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", w.destTable, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (w *SQLWarehouse) Close() error {
	return w.db.Close()
}
