// Package metrics holds the Prometheus collectors of the sync server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "collabgrid"

// Drop reasons used as the "reason" label of DroppedEvents.
const (
	ReasonDecode            = "decode"
	ReasonUnknownConnection = "unknown_connection"
	ReasonUnknownDocument   = "unknown_document"
	ReasonDocumentMismatch  = "document_mismatch"
	ReasonOutOfRange        = "out_of_range"
	ReasonUnavailable       = "unavailable"
	ReasonEncode            = "encode"
)

// Metrics groups every collector the server updates.
type Metrics struct {
	// InboundEvents counts decoded client events by event name.
	InboundEvents *prometheus.CounterVec

	// DroppedEvents counts client events that were discarded, by reason.
	DroppedEvents *prometheus.CounterVec

	// Broadcasts counts room fan-outs by event name.
	Broadcasts *prometheus.CounterVec

	// Evictions counts members dropped because their send queue was full.
	Evictions prometheus.Counter

	// RelayErrors counts failed publishes to the Redis relay.
	RelayErrors prometheus.Counter

	// OwnershipErrors counts document claims that could not be refreshed.
	OwnershipErrors prometheus.Counter

	// Connections tracks open websocket connections.
	Connections prometheus.Gauge

	// Participants tracks attached participants across all documents.
	Participants prometheus.Gauge

	// Documents tracks documents held in memory.
	Documents prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InboundEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "inbound_total",
			Help:      "Client events received, by event name.",
		}, []string{"event"}),
		DroppedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Client events discarded without effect, by reason.",
		}, []string{"reason"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "broadcasts_total",
			Help:      "Events fanned out to a document room, by event name.",
		}, []string{"event"}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "evictions_total",
			Help:      "Members evicted because their send queue was full.",
		}),
		RelayErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rooms",
			Name:      "relay_errors_total",
			Help:      "Failed publishes to the Redis relay.",
		}),
		OwnershipErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cluster",
			Name:      "ownership_errors_total",
			Help:      "Document claims that failed to refresh or were lost.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Participants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Participants attached to a document.",
		}),
		Documents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents",
			Help:      "Documents held in memory.",
		}),
	}
}
