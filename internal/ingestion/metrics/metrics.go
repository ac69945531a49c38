package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ingestion pipeline.
type Metrics struct {
	Ingestions       *prometheus.CounterVec
	StageFailures    *prometheus.CounterVec
	IngestLatency    prometheus.Histogram
	ConflictRechecks prometheus.Counter
	PublishFailures  prometheus.Counter
	BatchSize        prometheus.Histogram
}

// New creates a new Metrics instance with all ingestion metrics registered.
func New() *Metrics {
	return &Metrics{
		Ingestions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscaldoc_ingestions_total",
			Help: "Finished ingestions by outcome (completed, duplicate, failed)",
		}, []string{"outcome"}),
		StageFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscaldoc_ingestion_failures_total",
			Help: "Failed ingestions by the stage they failed in and failure class",
		}, []string{"stage", "class"}),
		IngestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscaldoc_ingestion_duration_seconds",
			Help:    "End-to-end duration of one ingestion",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ConflictRechecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscaldoc_ingestion_conflict_rechecks_total",
			Help: "Final writes rejected by the original-uniqueness constraint and re-resolved as duplicates",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscaldoc_ingestion_publish_failures_total",
			Help: "Finalized documents that could not be handed downstream",
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscaldoc_ingestion_batch_size",
			Help:    "Number of documents per batch request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

func (m *Metrics) IncrementIngestion(outcome string) {
	if m != nil {
		m.Ingestions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementStageFailure(stage, class string) {
	if m != nil {
		m.StageFailures.WithLabelValues(stage, class).Inc()
	}
}

func (m *Metrics) ObserveIngestLatency(d time.Duration) {
	if m != nil {
		m.IngestLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementConflictRecheck() {
	if m != nil {
		m.ConflictRechecks.Inc()
	}
}

func (m *Metrics) IncrementPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

func (m *Metrics) ObserveBatchSize(n int) {
	if m != nil {
		m.BatchSize.Observe(float64(n))
	}
}
