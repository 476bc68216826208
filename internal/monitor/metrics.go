package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var probeBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

type metrics struct {
	checksTotal   *prometheus.CounterVec
	probeDuration prometheus.Histogram
	alertsTotal   prometheus.Counter
	initialized   bool
}

func newMetrics() *metrics {
	m := &metrics{}
	m.checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "umbrella",
		Subsystem: "monitor",
		Name:      "checks_total",
		Help:      "Count of health checks by outcome",
	}, []string{"outcome"})

	m.probeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "umbrella",
		Subsystem: "monitor",
		Name:      "probe_duration_seconds",
		Help:      "Latency distribution of health probes",
		Buckets:   probeBuckets,
	})

	m.alertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "umbrella",
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Number of alerts dispatched",
	})

	collectors := []prometheus.Collector{m.checksTotal, m.probeDuration, m.alertsTotal}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return m
			}
			switch existing := already.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				m.checksTotal = existing
			case prometheus.Histogram:
				m.probeDuration = existing
			case prometheus.Counter:
				m.alertsTotal = existing
			}
		}
	}
	m.initialized = true
	return m
}

func (m *metrics) recordCheck(outcome string, duration time.Duration) {
	if !m.initialized {
		return
	}
	m.checksTotal.WithLabelValues(outcome).Inc()
	m.probeDuration.Observe(duration.Seconds())
}

func (m *metrics) recordAlert() {
	if !m.initialized {
		return
	}
	m.alertsTotal.Inc()
}
