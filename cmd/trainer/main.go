package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ratelimiter-trainer/config"
	"ratelimiter-trainer/forest"
	"ratelimiter-trainer/observability"
	"ratelimiter-trainer/trainer"
	"ratelimiter-trainer/warehouse"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(".env"); err != nil {
		logrus.WithError(err).Error("Failed to read .env")
		return 1
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Error("Failed to load config")
		return 1
	}

	base := observability.NewLogger(cfg.Log)
	runID := uuid.NewString()
	logger := base.WithField("run_id", runID)

	tracer, shutdown, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.WithError(err).Error("Failed to init tracing")
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Tracer shutdown failed")
		}
	}()

	// Warehouse
	wh, err := warehouse.Open(ctx, cfg.Warehouse)
	if err != nil {
		logger.WithError(err).WithField("driver", cfg.Warehouse.Driver).Error("Failed to connect to warehouse")
		return 1
	}
	defer wh.Close()
	logger.WithField("driver", cfg.Warehouse.Driver).Info("Warehouse connected")

	opts := trainer.Options{
		Metrics:    trainer.NewMetrics(),
		Tracer:     tracer,
		SampleSize: cfg.SampleSize,
	}

	// Redis is optional; the run continues without the cache.
	if cfg.Redis.Enabled() {
		cache, err := trainer.NewCacheService(ctx, cfg.Redis, logger)
		if err != nil {
			logger.WithError(err).Warn("Prediction cache unavailable, continuing without it")
		} else {
			defer cache.Close()
			opts.Cache = cache
		}
	}
	if cfg.Export.ParquetPath != "" {
		exporter := trainer.NewParquetExporter(cfg.Export.ParquetPath)
		logger.WithField("path", exporter.Path()).Info("Parquet export enabled")
		opts.Exporter = exporter
	}

	clf := forest.New(forest.Params{Trees: cfg.Model.Trees, Seed: cfg.Model.Seed})
	pipeline := trainer.NewPipeline(wh, clf, logger, opts)

	res, err := pipeline.Run(ctx)
	code := 0
	switch {
	case errors.Is(err, trainer.ErrNoRequests):
	case err != nil:
		logger.WithError(err).Error("Training run failed")
		code = 1
	default:
		logger.WithFields(logrus.Fields{
			"requests":    res.RequestsLoaded,
			"predictions": res.PredictionsWritten,
			"accuracy":    res.InSampleAccuracy,
		}).Info("Training run complete")
	}

	if cfg.Metrics.PushgatewayURL != "" {
		if err := opts.Metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, runID); err != nil {
			logger.WithError(err).Warn("Failed to push metrics")
		}
	}
	return code
}
