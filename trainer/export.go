package trainer

import (
	"bytes"
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"ratelimiter-trainer/models"
)

const parquetParallelism = 4

type predictionRecord struct {
	Timestamp        *int64 `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`
	UserID           string `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PredictedAllowed bool   `parquet:"name=predicted_allowed, type=BOOLEAN"`
}

// ParquetExporter writes predictions to a single local parquet file.
type ParquetExporter struct {
	path string
}

func NewParquetExporter(path string) *ParquetExporter {
	return &ParquetExporter{path: path}
}

func (e *ParquetExporter) Path() string { return e.path }

func (e *ParquetExporter) Export(preds []models.Prediction) (err error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(predictionRecord), parquetParallelism)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, p := range preds {
		rec := predictionRecord{UserID: p.UserID, PredictedAllowed: p.PredictedAllowed}
		if p.Timestamp.Valid {
			micros := p.Timestamp.Time.UnixMicro()
			rec.Timestamp = &micros
		}
		if err := pw.Write(rec); err != nil {
			return fmt.Errorf("write parquet row %d: %w", i, err)
		}
	}

	// WriteStop can panic inside the library on malformed schemas.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("finalize parquet file: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet file: %w", err)
	}

	if err := os.WriteFile(e.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", e.path, err)
	}
	return nil
}
