package symphra

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the runtime's activity as Prometheus collectors. It
// observes the event bus rather than instrumenting call sites, so the
// numbers always agree with what subscribers saw.
type Metrics struct {
	eventsPublished *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	moduleErrors    *prometheus.CounterVec
	reloads         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer to use the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symphra",
			Name:      "events_published_total",
			Help:      "Events published on the module event bus, by type.",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symphra",
			Name:      "state_transitions_total",
			Help:      "Module state transitions, by module and resulting state.",
		}, []string{"module", "state"}),
		moduleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "symphra",
			Name:      "module_errors_total",
			Help:      "module.error events, by module.",
		}, []string{"module"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "symphra",
			Name:      "module_reloads_total",
			Help:      "Completed module reloads.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.eventsPublished, m.transitions, m.moduleErrors, m.reloads)
	}
	return m
}

// Observe subscribes the collectors to every event on the bus.
func (m *Metrics) Observe(bus *EventBus) {
	bus.Subscribe("*", func(event Event) error {
		m.eventsPublished.WithLabelValues(event.Type).Inc()
		switch event.Type {
		case EventTypeModuleStateChanged:
			if to, ok := event.Payload["to"].(string); ok {
				m.transitions.WithLabelValues(event.ModuleName, to).Inc()
			}
		case EventTypeModuleError:
			m.moduleErrors.WithLabelValues(event.ModuleName).Inc()
		case EventTypeModuleReloaded:
			m.reloads.Inc()
		}
		return nil
	})
}
