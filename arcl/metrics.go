package arcl

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "arcl"

// Metrics holds the Prometheus collectors for a session and its trackers.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	linesReceived *prometheus.CounterVec
	parseFailures *prometheus.CounterVec
	writes        prometheus.Counter
	writeErrors   prometheus.Counter
	connected     prometheus.Gauge
	synced        *prometheus.GaugeVec
	statusDelayed prometheus.Gauge
	statusLatency prometheus.Histogram
}

// NewMetrics creates and registers the collectors. It returns nil when reg
// is nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		linesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "conn",
			Name:      "lines_received_total",
			Help:      "Lines received, by category",
		}, []string{"category"}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "parser",
			Name:      "failures_total",
			Help:      "Lines dropped after failing field-level parsing, by category",
		}, []string{"category"}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "conn",
			Name:      "writes_total",
			Help:      "Commands written to the server",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "conn",
			Name:      "write_errors_total",
			Help:      "Command writes that failed at the socket",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "conn",
			Name:      "connected",
			Help:      "1 while the session is logged in",
		}),
		synced: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "tracker",
			Name:      "synced",
			Help:      "1 while a tracker reflects a completed dump",
		}, []string{"tracker"}),
		statusDelayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "status",
			Name:      "delayed",
			Help:      "1 while no status line arrived during the last poll interval",
		}),
		statusLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "status",
			Name:      "latency_seconds",
			Help:      "Time from a status poll to the matching status line",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}

	collectors := []prometheus.Collector{
		m.linesReceived,
		m.parseFailures,
		m.writes,
		m.writeErrors,
		m.connected,
		m.synced,
		m.statusDelayed,
		m.statusLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register arcl metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) lineReceived(c Category) {
	if m == nil {
		return
	}
	m.linesReceived.WithLabelValues(c.String()).Inc()
}

func (m *Metrics) parseFailed(c Category) {
	if m == nil {
		return
	}
	m.parseFailures.WithLabelValues(c.String()).Inc()
}

func (m *Metrics) written(err error) {
	if m == nil {
		return
	}
	m.writes.Inc()
	if err != nil {
		m.writeErrors.Inc()
	}
}

func (m *Metrics) setConnected(v bool) {
	if m == nil {
		return
	}
	m.connected.Set(boolGauge(v))
}

func (m *Metrics) setSynced(tracker string, v bool) {
	if m == nil {
		return
	}
	m.synced.WithLabelValues(tracker).Set(boolGauge(v))
}

func (m *Metrics) setStatusDelayed(v bool) {
	if m == nil {
		return
	}
	m.statusDelayed.Set(boolGauge(v))
}

func (m *Metrics) observeStatusLatency(seconds float64) {
	if m == nil {
		return
	}
	m.statusLatency.Observe(seconds)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
