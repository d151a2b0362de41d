package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	events *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_events_total",
				Help: "Total number of billing provider events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.events)
	}
	return m
}

func (m *metrics) observe(eventType string, o Outcome) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, string(o)).Inc()
}
