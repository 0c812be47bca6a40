package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ratelimiter-trainer/config"
	"ratelimiter-trainer/models"
)

// PostgresWarehouse is a session against a Postgres-compatible warehouse.
// Table names are quoted, so they match case-sensitively.
type PostgresWarehouse struct {
	pool        *pgxpool.Pool
	sourceTable string
	destTable   string
}

func NewPostgresWarehouse(pool *pgxpool.Pool, sourceTable, destTable string) *PostgresWarehouse {
	return &PostgresWarehouse{pool: pool, sourceTable: sourceTable, destTable: destTable}
}

func OpenPostgres(ctx context.Context, cfg config.WarehouseConfig) (*PostgresWarehouse, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return NewPostgresWarehouse(pool, cfg.SourceTable, cfg.DestTable), nil
}

func (w *PostgresWarehouse) LoadRequests(ctx context.Context) ([]models.RequestLog, error) {
	rows, err := w.pool.Query(ctx, "SELECT * FROM "+pgx.Identifier{w.sourceTable}.Sanitize())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", w.sourceTable, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	cols, err := mapColumns(names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.sourceTable, err)
	}

	var logs []models.RequestLog
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
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

// OverwritePredictions drops, recreates and bulk-loads the destination table
// in one transaction, so readers never observe a partial write.
func (w *PostgresWarehouse) OverwritePredictions(ctx context.Context, preds []models.Prediction) (int64, error) {
	table := pgx.Identifier{w.destTable}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin write to %s: %w", w.destTable, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+table.Sanitize()); err != nil {
		return 0, fmt.Errorf("drop %s: %w", w.destTable, err)
	}
	create := fmt.Sprintf(`CREATE TABLE %s ("%s" timestamp, "%s" text, "%s" boolean)`,
		table.Sanitize(), models.ColumnTimestamp, models.ColumnUserID, models.ColumnPredictedAllowed)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("create %s: %w", w.destTable, err)
	}

	written, err := tx.CopyFrom(ctx, table, predictionColumns,
		pgx.CopyFromSlice(len(preds), func(i int) ([]any, error) {
			p := preds[i]
			var ts any
			if p.Timestamp.Valid {
				ts = p.Timestamp.Time
			}
			return []any{ts, p.UserID, p.PredictedAllowed}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", w.destTable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit write to %s: %w", w.destTable, err)
	}
	return written, nil
}

func (w *PostgresWarehouse) SamplePredictions(ctx context.Context, limit int) ([]models.Prediction, error) {
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT $1", quotedColumns(), pgx.Identifier{w.destTable}.Sanitize())
	rows, err := w.pool.Query(ctx, query, limit)
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

func (w *PostgresWarehouse) Close() error {
	w.pool.Close()
	return nil
}
