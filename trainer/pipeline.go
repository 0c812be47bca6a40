// Package trainer runs the batch job that fits the allow/deny classifier on
// historical request logs and writes its predictions back.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"ratelimiter-trainer/features"
	"ratelimiter-trainer/models"
)

// ErrNoRequests is returned when the request table is empty. It is a normal
// termination, not a failure.
var ErrNoRequests = errors.New("no request logs found")

type Warehouse interface {
	LoadRequests(ctx context.Context) ([]models.RequestLog, error)
	OverwritePredictions(ctx context.Context, preds []models.Prediction) (int64, error)
	SamplePredictions(ctx context.Context, limit int) ([]models.Prediction, error)
}

type Classifier interface {
	Fit(X mat.Matrix, y []bool) error
	Predict(X mat.Matrix) ([]bool, error)
}

type PredictionPublisher interface {
	PublishPredictions(ctx context.Context, preds []models.Prediction) (int, error)
}

type PredictionExporter interface {
	Export(preds []models.Prediction) error
}

// Options holds the optional collaborators of a Pipeline.
type Options struct {
	Cache      PredictionPublisher
	Exporter   PredictionExporter
	Metrics    *Metrics
	Tracer     trace.Tracer
	SampleSize int
}

type Pipeline struct {
	warehouse  Warehouse
	classifier Classifier
	cache      PredictionPublisher
	exporter   PredictionExporter
	metrics    *Metrics
	tracer     trace.Tracer
	logger     logrus.FieldLogger
	sampleSize int
}

type Result struct {
	RequestsLoaded     int
	PredictionsWritten int64
	InSampleAccuracy   float64
	CacheEntries       int
	Predictions        []models.Prediction
	Sample             []models.Prediction
}

func NewPipeline(wh Warehouse, clf Classifier, logger logrus.FieldLogger, opts Options) *Pipeline {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 5
	}
	return &Pipeline{
		warehouse:  wh,
		classifier: clf,
		cache:      opts.Cache,
		exporter:   opts.Exporter,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     logger,
		sampleSize: opts.SampleSize,
	}
}

// Run executes load, features, train, predict, write and verify once, in
// that order. Cache publishing and export run afterwards and only log.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "trainer.run")
	defer span.End()

	res := &Result{}

	var logs []models.RequestLog
	err := p.stage(ctx, "load", func(ctx context.Context) error {
		var err error
		logs, err = p.warehouse.LoadRequests(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.RequestsLoaded = len(logs)
	p.metrics.requestsLoaded.Add(float64(len(logs)))
	p.logger.Infof("Loaded %d rows from request table", len(logs))

	if len(logs) == 0 {
		p.logger.Warn("No request logs found; add rows to the request table first")
		span.SetAttributes(attribute.Bool("trainer.empty_input", true))
		return nil, ErrNoRequests
	}

	var X *mat.Dense
	var y []bool
	err = p.stage(ctx, "features", func(context.Context) error {
		rows, err := features.Build(logs)
		if err != nil {
			return err
		}
		p.metrics.featureRowsBuilt.Add(float64(len(rows)))
		X, y = features.Matrix(rows), features.Labels(logs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := p.stage(ctx, "train", func(context.Context) error { return p.classifier.Fit(X, y) }); err != nil {
		return nil, err
	}
	p.logger.Info("Model trained")

	var predicted []bool
	err = p.stage(ctx, "predict", func(context.Context) error {
		var err error
		predicted, err = p.classifier.Predict(X)
		if err == nil && len(predicted) != len(logs) {
			err = fmt.Errorf("classifier returned %d predictions for %d rows", len(predicted), len(logs))
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	res.InSampleAccuracy = accuracy(predicted, y)
	p.metrics.trainingAccuracy.Set(res.InSampleAccuracy)
	p.logger.WithField("accuracy", res.InSampleAccuracy).Info("In-sample accuracy (training rows, not a generalization estimate)")

	res.Predictions = BuildPredictions(logs, predicted)

	err = p.stage(ctx, "write", func(ctx context.Context) error {
		n, err := p.warehouse.OverwritePredictions(ctx, res.Predictions)
		if err != nil {
			return err
		}
		if n != int64(len(res.Predictions)) {
			return fmt.Errorf("wrote %d of %d predictions", n, len(res.Predictions))
		}
		res.PredictionsWritten = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.metrics.predictionsWritten.Add(float64(res.PredictionsWritten))
	p.logger.Infof("Wrote %d predictions, replacing previous contents", res.PredictionsWritten)

	err = p.stage(ctx, "verify", func(ctx context.Context) error {
		var err error
		res.Sample, err = p.warehouse.SamplePredictions(ctx, p.sampleSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.printSample(res.Sample)

	if err := p.sideEffects(ctx, res); err != nil {
		p.logger.WithError(err).Warn("Post-write steps failed; predictions are written")
	}
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "trainer."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) sideEffects(ctx context.Context, res *Result) error {
	var result *multierror.Error

	if p.cache != nil {
		err := p.stage(ctx, "cache", func(ctx context.Context) error {
			n, err := p.cache.PublishPredictions(ctx, res.Predictions)
			res.CacheEntries = n
			return err
		})
		if err != nil {
			p.metrics.sideEffectFailures.Inc()
			result = multierror.Append(result, err)
		} else {
			p.metrics.cacheEntries.Add(float64(res.CacheEntries))
			p.logger.Infof("Cached latest prediction for %d users", res.CacheEntries)
		}
	}

	if p.exporter != nil {
		err := p.stage(ctx, "export", func(context.Context) error { return p.exporter.Export(res.Predictions) })
		if err != nil {
			p.metrics.sideEffectFailures.Inc()
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (p *Pipeline) printSample(sample []models.Prediction) {
	p.logger.Infof("Sample predictions (%d rows):", len(sample))
	for _, s := range sample {
		p.logger.WithFields(logrus.Fields{
			"timestamp":         models.FormatTimestamp(s.Timestamp),
			"user_id":           s.UserID,
			"predicted_allowed": s.PredictedAllowed,
		}).Info("prediction")
	}
}

// BuildPredictions pairs each log with its predicted label. Timestamps are
// coerced to naive wall-clock values; unusable ones become NULL.
func BuildPredictions(logs []models.RequestLog, predicted []bool) []models.Prediction {
	preds := make([]models.Prediction, len(logs))
	for i, l := range logs {
		preds[i] = models.Prediction{
			Timestamp:        models.CoerceTimestamp(l.Timestamp),
			UserID:           l.UserID,
			PredictedAllowed: predicted[i],
		}
	}
	return preds
}

func accuracy(predicted, labels []bool) float64 {
	if len(labels) == 0 {
		return 0
	}
	hits := make([]float64, len(labels))
	for i := range labels {
		if predicted[i] == labels[i] {
			hits[i] = 1
		}
	}
	return stat.Mean(hits, nil)
}
