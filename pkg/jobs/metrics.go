package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts jobs per method and outcome.
type Metrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the job collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apps_console",
			Name:      "jobs_total",
			Help:      "Jobs submitted to the management daemon by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apps_console",
			Name:      "job_duration_seconds",
			Help:      "Time from job submission to its terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"method"}),
	}
	reg.MustRegister(m.total, m.duration)
	return m
}

func (m *Metrics) observe(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.total.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}
