package eth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts provider activity. Construct with NewMetrics against the
// process's registry; a nil *Metrics disables collection.
type Metrics struct {
	Calls            *prometheus.CounterVec
	EndpointFailures *prometheus.CounterVec
	Resubscribes     prometheus.Counter
	PossibleGaps     prometheus.Counter
	DroppedNotifs    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proclink",
			Subsystem: "eth",
			Name:      "calls_total",
			Help:      "RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		EndpointFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proclink",
			Subsystem: "eth",
			Name:      "endpoint_failures_total",
			Help:      "Timeouts and transport failures per endpoint.",
		}, []string{"endpoint"}),
		Resubscribes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proclink",
			Subsystem: "eth",
			Name:      "resubscribes_total",
			Help:      "Subscriptions moved to a new endpoint after a drop.",
		}),
		PossibleGaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proclink",
			Subsystem: "eth",
			Name:      "possible_gaps_total",
			Help:      "Gap markers emitted to subscribers.",
		}),
		DroppedNotifs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "proclink",
			Subsystem: "eth",
			Name:      "dropped_notifications_total",
			Help:      "Notifications dropped because a subscriber lagged.",
		}),
	}
}

func (m *Metrics) call(method, outcome string) {
	if m != nil {
		m.Calls.WithLabelValues(method, outcome).Inc()
	}
}

func (m *Metrics) endpointFailure(endpoint string) {
	if m != nil {
		m.EndpointFailures.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) resubscribe() {
	if m != nil {
		m.Resubscribes.Inc()
	}
}

func (m *Metrics) possibleGap() {
	if m != nil {
		m.PossibleGaps.Inc()
	}
}

func (m *Metrics) droppedNotif() {
	if m != nil {
		m.DroppedNotifs.Inc()
	}
}
