package security

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors on a private
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decisions       *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	sweepRemoved    *prometheus.CounterVec
	activityDropped prometheus.Counter
	activityFailed  prometheus.Counter
	loginAttempts   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursegate_pipeline_decisions_total",
			Help: "Pipeline check outcomes by route, check and result.",
		}, []string{"route", "check", "outcome"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursegate_pipeline_duration_seconds",
			Help:    "Time spent in pipeline checks before the handler runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursegate_sweep_removed_total",
			Help: "Expired entries removed by the background sweep.",
		}, []string{"store"}),

		activityDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursegate_activity_dropped_total",
			Help: "Activity entries dropped because the queue was full or closed.",
		}),

		activityFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursegate_activity_failures_total",
			Help: "Activity entries the sink failed to record.",
		}),

		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursegate_login_attempts_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.decisions,
		m.latency,
		m.sweepRemoved,
		m.activityDropped,
		m.activityFailed,
		m.loginAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) decision(route, check, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(route, check, outcome).Inc()
}

func (m *Metrics) observeLatency(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveSweep records one sweep pass.
func (m *Metrics) ObserveSweep(res SweepResult) {
	if m == nil {
		return
	}
	m.sweepRemoved.WithLabelValues("rate_limit").Add(float64(res.RateLimits))
	m.sweepRemoved.WithLabelValues("brute_force").Add(float64(res.BruteForce))
	m.sweepRemoved.WithLabelValues("csrf").Add(float64(res.CSRF))
}

func (m *Metrics) ActivityDropped() {
	if m == nil {
		return
	}
	m.activityDropped.Inc()
}

func (m *Metrics) ActivityFailed() {
	if m == nil {
		return
	}
	m.activityFailed.Inc()
}

// LoginAttempt counts a login by result ("success" or "failure").
func (m *Metrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}
