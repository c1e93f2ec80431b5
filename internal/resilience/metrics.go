package resilience

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the request counter and latency histogram every resilience-
// wrapped call emits, labeled by service key and outcome
// (success/circuit_open/failure) - the core only produces these, it never
// serves them over HTTP.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the resilience counter/histogram pair against its own
// registry rather than the global default, so each BreakerRegistry - one per
// test, one per process in production - gets an independent set of series
// instead of colliding on repeated registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_calls_total",
				Help: "Total calls made through a circuit breaker, by service key and outcome",
			},
			[]string{"service", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resilience_call_duration_seconds",
				Help:    "Latency of calls made through a circuit breaker, by service key",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
	}
}

// Registry exposes the metrics' own prometheus.Gatherer so the collaborator
// HTTP surface can merge it into whatever it scrapes; the core itself never
// starts a listener.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observe(service string, dur time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		if _, ok := err.(*ErrCircuitOpen); ok {
			outcome = "circuit_open"
		} else {
			outcome = "failure"
		}
	}
	m.requests.WithLabelValues(service, outcome).Inc()
	m.duration.WithLabelValues(service).Observe(dur.Seconds())
}
