package usage

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	denied *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		denied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usage_limit_denied_total",
				Help: "Total number of usage checks denied by a plan limit",
			},
			[]string{"metric", "owner_kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.denied)
	}
	return m
}

func (m *metrics) deny(v *LimitExceededError) {
	if m == nil {
		return
	}
	m.denied.WithLabelValues(string(v.Metric), string(v.Owner.Kind)).Inc()
}
