// Package metrics exposes the league's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/eeSquared/musicleague-bot/internal/league"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "musicleague"

type Metrics struct {
	registry      *prometheus.Registry
	transitions   *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
	reminders     *prometheus.CounterVec
	duplicates    *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepFailures *prometheus.CounterVec
	inbound       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Round lifecycle transitions applied.",
		}, []string{"transition"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Failed chat gateway calls.",
		}, []string{"op"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Deadline reminders posted.",
		}, []string{"phase"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspected_duplicate_posts_total",
			Help:      "Posts made while an earlier attempt was never recorded.",
		}, []string{"kind"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one scheduler sweep over all guilds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		sweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Guilds or theme cycles whose evaluation failed during a sweep.",
		}, []string{"stage"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_actions_total",
			Help:      "Inbound user actions by outcome.",
		}, []string{"action", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.gatewayErrors,
		m.reminders,
		m.duplicates,
		m.sweepDuration,
		m.sweepFailures,
		m.inbound,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(name string) {
	m.transitions.WithLabelValues(name).Inc()
}

func (m *Metrics) GatewayError(op string) {
	m.gatewayErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ReminderSent(phase league.Phase) {
	m.reminders.WithLabelValues(string(phase)).Inc()
}

func (m *Metrics) SuspectedDuplicate(kind league.NoticeKind) {
	m.duplicates.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SweepDuration(d time.Duration) {
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) SweepFailure(stage string) {
	m.sweepFailures.WithLabelValues(stage).Inc()
}

// Inbound counts a handled slash command or reaction. outcome is ok,
// rejected or error.
func (m *Metrics) Inbound(action, outcome string) {
	m.inbound.WithLabelValues(action, outcome).Inc()
}

var _ league.Observer = (*Metrics)(nil)
