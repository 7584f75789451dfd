package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PointsMetrics struct {
	locksScored   *prometheus.CounterVec
	pointsAwarded prometheus.Counter
	priceLookups  *prometheus.CounterVec
	backfillRuns  *prometheus.CounterVec
	backfillTime  prometheus.Histogram
	lastBackfill  prometheus.Gauge
}

var (
	once     sync.Once
	registry *PointsMetrics
)

func Get() *PointsMetrics {
	once.Do(func() {
		registry = &PointsMetrics{
			locksScored: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lockpoints_locks_total",
				Help: "Locks seen by the scorer, by outcome (processed, skipped, error).",
			}, []string{"outcome"}),
			pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lockpoints_points_awarded_total",
				Help: "Sum of points written to the ledger.",
			}),
			priceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lockpoints_price_lookups_total",
				Help: "USD price lookups by result (hit, miss, cache).",
			}, []string{"result"}),
			backfillRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lockpoints_backfill_runs_total",
				Help: "Completed backfill runs by final state.",
			}, []string{"state"}),
			backfillTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "lockpoints_backfill_duration_seconds",
				Help:    "Wall time of backfill runs.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			}),
			lastBackfill: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lockpoints_last_backfill_timestamp_seconds",
				Help: "Unix time the last backfill run finished.",
			}),
		}
		prometheus.MustRegister(
			registry.locksScored,
			registry.pointsAwarded,
			registry.priceLookups,
			registry.backfillRuns,
			registry.backfillTime,
			registry.lastBackfill,
		)
	})
	return registry
}

func (m *PointsMetrics) ObserveLock(outcome string, points float64) {
	if m == nil {
		return
	}
	m.locksScored.WithLabelValues(outcome).Inc()
	if points > 0 {
		m.pointsAwarded.Add(points)
	}
}

func (m *PointsMetrics) ObservePriceLookup(result string) {
	if m == nil {
		return
	}
	m.priceLookups.WithLabelValues(result).Inc()
}

func (m *PointsMetrics) ObserveBackfill(state string, took time.Duration) {
	if m == nil {
		return
	}
	m.backfillRuns.WithLabelValues(state).Inc()
	m.backfillTime.Observe(took.Seconds())
	m.lastBackfill.SetToCurrentTime()
}
