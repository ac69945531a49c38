package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for duplicate detection.
type Metrics struct {
	Checks       *prometheus.CounterVec
	CheckLatency prometheus.Histogram
}

// New creates a new Metrics instance with all duplicate metrics registered.
func New() *Metrics {
	return &Metrics{
		Checks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscaldoc_duplicate_checks_total",
			Help: "Duplicate checks by outcome method (none when no match)",
		}, []string{"method"}),
		CheckLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscaldoc_duplicate_check_duration_seconds",
			Help:    "Duration of one duplicate check",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// IncrementCheck records a check outcome. method is "none" for non-duplicates.
func (m *Metrics) IncrementCheck(method string) {
	if m != nil {
		m.Checks.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) ObserveCheckLatency(d time.Duration) {
	if m != nil {
		m.CheckLatency.Observe(d.Seconds())
	}
}
