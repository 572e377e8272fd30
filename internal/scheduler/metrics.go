package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles Prometheus collectors for the alert engine.
type Metrics struct {
	outcomes *prometheus.CounterVec
	backlog  prometheus.Gauge
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gnasty",
			Name:      "alerts_total",
			Help:      "Queue entries resolved, by outcome",
		}, []string{"outcome"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gnasty",
			Name:      "alert_queue_backlog",
			Help:      "Unplayed entries ahead of the cursor",
		}),
	}
	reg.MustRegister(m.outcomes, m.backlog)
	return m
}

func (m *Metrics) observe(outcome Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) setBacklog(n int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}
