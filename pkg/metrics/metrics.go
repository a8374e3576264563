// Package metrics defines the Prometheus instrumentation shared by the
// engine, watcher, and API server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tsdiff"

// Metrics holds every collector the application registers
type Metrics struct {
	ComparisonsTotal *prometheus.CounterVec
	OperationsTotal  *prometheus.CounterVec
	CompareDuration  prometheus.Histogram
	PollsTotal       *prometheus.CounterVec
	WatchedRuns      prometheus.Gauge
	WSClients        prometheus.Gauge
	HTTPRequests     *prometheus.CounterVec
}

// New creates the metric set, unregistered
func New() *Metrics {
	return &Metrics{
		ComparisonsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comparisons_total",
			Help:      "Signal comparisons by verdict (pass, fail, skip)",
		}, []string{"verdict"}),

		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Derived-signal operations by operation name",
		}, []string{"op"}),

		CompareDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compare_duration_seconds",
			Help:      "Time spent comparing one run pair",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Streaming detector polls by outcome",
		}, []string{"result"}),

		WatchedRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_runs",
			Help:      "Runs currently tracked by the watcher",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by path and status code",
		}, []string{"path", "code"}),
	}
}

// MustRegister registers every collector with the given registry
func (m *Metrics) MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ComparisonsTotal,
		m.OperationsTotal,
		m.CompareDuration,
		m.PollsTotal,
		m.WatchedRuns,
		m.WSClients,
		m.HTTPRequests,
	)
}
