// Package metrics holds the Prometheus instruments and the trace exporter
// setup of the deploy service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sparklane"

// Deploy results.
const (
	ResultSuccess   = "success"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
	ResultDuplicate = "duplicate"
)

// Metrics groups every instrument. A nil *Metrics is valid and records
// nothing, so packages under test need not wire one.
type Metrics struct {
	deploys       *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inflight      prometheus.Gauge
	gatherer      prometheus.Gatherer
}

// New creates the instruments and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Deploy requests by result.",
		}, []string{"result"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Provisioning stage failures by stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Provisioning stage latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10), //nolint:mnd
		}, []string{"stage"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provisions_inflight",
			Help:      "Provisioning pipelines currently running.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.deploys, m.stageFailures, m.stageDuration, m.inflight)
	return m
}

// Deploy counts one finished deploy request.
func (m *Metrics) Deploy(result string) {
	if m == nil {
		return
	}
	m.deploys.WithLabelValues(result).Inc()
}

// Stage records one stage execution.
func (m *Metrics) Stage(stage string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(took.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(stage).Inc()
	}
}

// Inflight tracks a running pipeline; call the returned func when it ends.
func (m *Metrics) Inflight() func() {
	if m == nil {
		return func() {}
	}
	m.inflight.Inc()
	return m.inflight.Dec
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
