package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stupiduntilnot/windowchat/internal/session"
)

const namespace = "windowchat"

// Metrics exports session and turn counters. It implements session.Observer.
type Metrics struct {
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	Turns           *prometheus.CounterVec
	TurnErrors      *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	PromptTokens    prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Chat sessions started.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Chat sessions currently open.",
		}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Turns by outcome.",
		}, []string{"outcome"}),
		TurnErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_errors_total",
			Help:      "Failed turns by error class.",
		}, []string{"class"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn from submit to result.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		PromptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Estimated tokens of rendered prompts.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}),
	}
	reg.MustRegister(m.SessionsStarted, m.SessionsActive, m.Turns, m.TurnErrors, m.TurnDuration, m.PromptTokens)
	return m
}

func (m *Metrics) SessionStarted(id string) {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(id string) {
	m.SessionsActive.Dec()
}

func (m *Metrics) TurnStarted(ev session.TurnEvent) {
	m.PromptTokens.Observe(float64(ev.PromptTokens))
}

func (m *Metrics) TurnFinished(ev session.TurnEvent) {
	m.Turns.WithLabelValues(string(ev.Outcome)).Inc()
	m.TurnDuration.Observe(ev.Duration.Seconds())
	if ev.Outcome == session.OutcomeFailed {
		m.TurnErrors.WithLabelValues(ev.ErrClass).Inc()
	}
}
