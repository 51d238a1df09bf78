package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports request metrics through client_golang.
type PrometheusRecorder struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	partial  *prometheus.CounterVec
}

var (
	_ MetricsRecorder        = (*PrometheusRecorder)(nil)
	_ InFlightRecorder       = (*PrometheusRecorder)(nil)
	_ PartialFailureRecorder = (*PrometheusRecorder)(nil)
)

// NewPrometheusRecorder builds the collectors and registers them with reg.
// A nil reg uses a fresh registry.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &PrometheusRecorder{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consolecore",
			Name:      "requests_total",
			Help:      "Proxy requests by entity, operation and outcome.",
		}, []string{"entity", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consolecore",
			Name:      "request_duration_seconds",
			Help:      "Proxy request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity", "operation"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consolecore",
			Name:      "requests_in_flight",
			Help:      "Proxy requests currently executing.",
		}),
		partial: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consolecore",
			Name:      "partial_failures_total",
			Help:      "Endpoints that failed inside an otherwise successful response.",
		}, []string{"entity", "operation"}),
	}
	for _, c := range []prometheus.Collector{r.requests, r.duration, r.inFlight, r.partial} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder. Operation names follow OperationName.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	verb, entity := SplitOperation(operation)
	outcome := "error"
	if success {
		outcome = "success"
	}
	r.requests.WithLabelValues(entity, verb, outcome).Inc()
	r.duration.WithLabelValues(entity, verb).Observe(duration.Seconds())
}

// InFlight implements InFlightRecorder.
func (r *PrometheusRecorder) InFlight(delta int) {
	r.inFlight.Add(float64(delta))
}

// PartialFailures implements PartialFailureRecorder.
func (r *PrometheusRecorder) PartialFailures(operation string, n int) {
	verb, entity := SplitOperation(operation)
	r.partial.WithLabelValues(entity, verb).Add(float64(n))
}
