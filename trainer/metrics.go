package trainer

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the per-run collectors on a private registry so a run can
// push exactly its own series.
type Metrics struct {
	registry *prometheus.Registry

	requestsLoaded     prometheus.Counter
	featureRowsBuilt   prometheus.Counter
	predictionsWritten prometheus.Counter
	cacheEntries       prometheus.Counter
	sideEffectFailures prometheus.Counter
	trainingAccuracy   prometheus.Gauge
	stageDuration      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_requests_loaded_total",
			Help: "Request log rows read from the warehouse.",
		}),
		featureRowsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_feature_rows_built_total",
			Help: "Feature rows derived from request logs.",
		}),
		predictionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_predictions_written_total",
			Help: "Prediction rows written to the destination table.",
		}),
		cacheEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_cache_entries_published_total",
			Help: "Per-user predictions published to Redis.",
		}),
		sideEffectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trainer_side_effect_failures_total",
			Help: "Failed cache publishes and exports.",
		}),
		trainingAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_in_sample_accuracy_ratio",
			Help: "Share of training rows whose prediction matches the label.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trainer_stage_duration_seconds",
			Help:    "Duration of each pipeline stage.",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		m.requestsLoaded,
		m.featureRowsBuilt,
		m.predictionsWritten,
		m.cacheEntries,
		m.sideEffectFailures,
		m.trainingAccuracy,
		m.stageDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Push sends the registry to a Pushgateway, replacing the group for runID.
func (m *Metrics) Push(ctx context.Context, url, job, runID string) error {
	err := push.New(url, job).
		Gatherer(m.registry).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
