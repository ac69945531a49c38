package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for registry verification.
type Metrics struct {
	Verifications    *prometheus.CounterVec
	Attempts         prometheus.Histogram
	TransportRetries prometheus.Counter
	AttemptLatency   prometheus.Histogram
	VerifyLatency    prometheus.Histogram
	CacheLookups     *prometheus.CounterVec
}

// New creates a new Metrics instance with all verification metrics registered.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscaldoc_verification_results_total",
			Help: "Completed verifications by outcome and the variation that produced it",
		}, []string{"outcome", "variation"}),
		Attempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscaldoc_verification_attempts",
			Help:    "Registry answers consumed per verification",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		}),
		TransportRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscaldoc_verification_transport_retries_total",
			Help: "Registry calls repeated with identical fields after a transport failure",
		}),
		AttemptLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscaldoc_verification_attempt_duration_seconds",
			Help:    "Duration of one registry attempt including transport retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		VerifyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscaldoc_verification_duration_seconds",
			Help:    "Duration of a full verification",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscaldoc_verification_cache_lookups_total",
			Help: "Registry answer cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementVerification(outcome, variation string) {
	if m != nil {
		if variation == "" {
			variation = "none"
		}
		m.Verifications.WithLabelValues(outcome, variation).Inc()
	}
}

func (m *Metrics) ObserveAttempts(n int) {
	if m != nil {
		m.Attempts.Observe(float64(n))
	}
}

func (m *Metrics) IncrementTransportRetry() {
	if m != nil {
		m.TransportRetries.Inc()
	}
}

func (m *Metrics) ObserveAttemptLatency(d time.Duration) {
	if m != nil {
		m.AttemptLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveVerifyLatency(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}

// RecordCacheHit and RecordCacheMiss are called by the answer caches.
func (m *Metrics) RecordCacheHit() {
	if m != nil {
		m.CacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) RecordCacheMiss() {
	if m != nil {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}
