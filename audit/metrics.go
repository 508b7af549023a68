package audit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts events by kind.
type Metrics struct {
	events *prometheus.CounterVec
}

var _ Sink = (*Metrics)(nil)

// NewMetrics registers leafgate_audit_events_total on reg. Every kind is
// pre-initialised so dashboards see zeros rather than missing series.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "leafgate",
			Name:      "audit_events_total",
			Help:      "Audit events recorded, by kind.",
		}, []string{"kind"}),
	}
	for _, k := range Kinds {
		m.events.WithLabelValues(string(k))
	}
	return m
}

func (m *Metrics) Write(_ context.Context, evt Event) {
	m.events.WithLabelValues(string(evt.Kind)).Inc()
}
