package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds process-wide Prometheus metrics. Bounded contexts register
// their own collectors in their metrics packages.
type Metrics struct {
	HTTPRequests *prometheus.CounterVec
	BuildInfo    *prometheus.GaugeVec
}

// New creates and registers the process-wide metrics.
func New() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscaldoc_http_requests_total",
			Help: "Total HTTP requests by route pattern and status class",
		}, []string{"route", "status"}),
		BuildInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fiscaldoc_build_info",
			Help: "Constant 1, labelled with the running version",
		}, []string{"version"}),
	}
}

// IncrementHTTPRequest counts one served request.
func (m *Metrics) IncrementHTTPRequest(route, status string) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, status).Inc()
	}
}

// SetBuildInfo publishes the running version.
func (m *Metrics) SetBuildInfo(version string) {
	if m != nil {
		m.BuildInfo.WithLabelValues(version).Set(1)
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
