// Package metrics exposes queue and transport activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orrn/printdispatch/internal/transport"
)

const namespace = "printdispatch"

// Metrics implements core.Metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmitted     *prometheus.CounterVec
	jobsCompleted     *prometheus.CounterVec
	jobsFailed        *prometheus.CounterVec
	jobRetries        *prometheus.CounterVec
	transportAttempts *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	deliveryDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		jobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_submitted_total",
				Help:      "Print jobs accepted into a queue",
			},
			[]string{"printer"},
		),

		jobsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_completed_total",
				Help:      "Print jobs delivered to a printer",
			},
			[]string{"printer"},
		),

		jobsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_failed_total",
				Help:      "Print jobs that exhausted their attempts",
			},
			[]string{"printer"},
		),

		jobRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_retries_total",
				Help:      "Failed attempts that sent a job back to the queue",
			},
			[]string{"printer"},
		),

		transportAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_attempts_total",
				Help:      "Delivery attempts per transport and result",
			},
			[]string{"printer", "transport", "result"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Jobs waiting in a printer queue",
			},
			[]string{"printer"},
		),

		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Time from attempt start to successful delivery",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"printer"},
		),
	}

	m.registry.MustRegister(
		m.jobsSubmitted,
		m.jobsCompleted,
		m.jobsFailed,
		m.jobRetries,
		m.transportAttempts,
		m.queueDepth,
		m.deliveryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobSubmitted(printerID string) {
	m.jobsSubmitted.WithLabelValues(printerID).Inc()
}

func (m *Metrics) JobRetried(printerID string) {
	m.jobRetries.WithLabelValues(printerID).Inc()
}

func (m *Metrics) JobCompleted(printerID string, elapsed time.Duration) {
	m.jobsCompleted.WithLabelValues(printerID).Inc()
	m.deliveryDuration.WithLabelValues(printerID).Observe(elapsed.Seconds())
}

func (m *Metrics) JobFailed(printerID string) {
	m.jobsFailed.WithLabelValues(printerID).Inc()
}

func (m *Metrics) QueueDepth(printerID string, depth int) {
	m.queueDepth.WithLabelValues(printerID).Set(float64(depth))
}

// TransportObserver counts attempts of one printer's dispatch chain. The
// result label is "ok" or the failure reason.
func (m *Metrics) TransportObserver(printerID string) transport.Observer {
	return func(kind transport.Kind, err error, _ time.Duration) {
		result := "ok"
		if err != nil {
			result = string(transport.ReasonOf(err))
			if result == "" {
				result = "error"
			}
		}
		m.transportAttempts.WithLabelValues(printerID, string(kind), result).Inc()
	}
}
