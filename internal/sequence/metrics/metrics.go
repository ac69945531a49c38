package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for correlative number issuance.
type Metrics struct {
	Issued       prometheus.Counter
	Conflicts    prometheus.Counter
	Failures     *prometheus.CounterVec
	IssueLatency prometheus.Histogram
}

// New creates a new Metrics instance with all sequence metrics registered.
func New() *Metrics {
	return &Metrics{
		Issued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscaldoc_sequence_issued_total",
			Help: "Correlative numbers issued",
		}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscaldoc_sequence_conflicts_total",
			Help: "Counter transactions aborted by a concurrent writer and retried",
		}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscaldoc_sequence_failures_total",
			Help: "Issue calls that returned an error, by error code",
		}, []string{"code"}),
		IssueLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscaldoc_sequence_issue_duration_seconds",
			Help:    "Duration of one issue call including conflict retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	if m != nil {
		m.Issued.Inc()
	}
}

func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.Conflicts.Inc()
	}
}

func (m *Metrics) IncrementFailure(code string) {
	if m != nil {
		m.Failures.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) ObserveIssueLatency(d time.Duration) {
	if m != nil {
		m.IssueLatency.Observe(d.Seconds())
	}
}
