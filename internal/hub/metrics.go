package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "peggiator"

// Inbound event outcomes.
const (
	outcomeAccepted    = "accepted"
	outcomeInvalid     = "invalid"
	outcomeRateLimited = "rate_limited"
	outcomeCoalesced   = "coalesced"
	outcomeStale       = "stale"
	outcomeNotFound    = "not_found"
	outcomeNoop        = "noop"
	outcomeRejected    = "rejected"
	outcomePanic       = "panic"
)

// Metrics holds the hub's Prometheus collectors.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	InboundEvents     *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	Evictions         prometheus.Counter
	Notes             prometheus.Gauge
}

// NewMetrics registers the hub collectors on reg. A nil reg uses a fresh
// private registry, which keeps tests and embedded hubs from colliding on
// the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "active_connections",
			Help:      "Number of connections currently joined",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "connections_total",
			Help:      "Total number of connections that joined",
		}),
		InboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "inbound_events_total",
			Help:      "Inbound events by type and outcome",
		}, []string{"type", "outcome"}),
		OutboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "outbound_messages_total",
			Help:      "Messages enqueued to connections by type",
		}, []string{"type"}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "hub",
			Name:      "evictions_total",
			Help:      "Connections dropped because their send queue was full",
		}),
		Notes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "notes",
			Name:      "count",
			Help:      "Number of notes in the store",
		}),
	}
}
