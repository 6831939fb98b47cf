package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry and the engine's collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ReadingsClassified *prometheus.CounterVec
	WarningsOpened     *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	AdvisoryResults    *prometheus.CounterVec
	AdvisoryDuration   prometheus.Histogram
	ChannelsOpened     *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ReadingsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_classified_total",
			Help:      "Emotion readings classified, by risk tier",
		}, []string{"tier"}),
		WarningsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_opened_total",
			Help:      "Warnings opened, by risk tier",
		}, []string{"tier"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warning_transitions_total",
			Help:      "State machine transitions attempted, by operation and result",
		}, []string{"op", "result"}),
		AdvisoryResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisory_results_total",
			Help:      "Advisory generations, by content source and fallback reason",
		}, []string{"source", "reason"}),
		AdvisoryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "advisory_duration_seconds",
			Help:      "Time spent waiting for the advisory provider",
			Buckets:   prometheus.DefBuckets,
		}),
		ChannelsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channels_opened_total",
			Help:      "Support channel handles issued, by channel",
		}, []string{"channel"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Notifier events dropped because the delivery queue was full",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.ReadingsClassified,
		m.WarningsOpened,
		m.Transitions,
		m.AdvisoryResults,
		m.AdvisoryDuration,
		m.ChannelsOpened,
		m.EventsDropped,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Classified(tier string) {
	if m == nil {
		return
	}
	m.ReadingsClassified.WithLabelValues(tier).Inc()
}

func (m *Metrics) Opened(tier string) {
	if m == nil {
		return
	}
	m.WarningsOpened.WithLabelValues(tier).Inc()
}

func (m *Metrics) Transition(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.Transitions.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Advisory(source, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.AdvisoryResults.WithLabelValues(source, reason).Inc()
	m.AdvisoryDuration.Observe(seconds)
}

func (m *Metrics) ChannelOpened(channel string) {
	if m == nil {
		return
	}
	m.ChannelsOpened.WithLabelValues(channel).Inc()
}

func (m *Metrics) EventDropped(eventType string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(eventType).Inc()
}
