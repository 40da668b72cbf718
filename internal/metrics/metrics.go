// Package metrics holds the Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dropped-result reasons. A result with no pending ticket may have timed
// out, never existed, or belong to another process; the relay cannot
// tell these apart, so they share one label value.
const (
	DropReasonUnknownTicket = "unknown_ticket"
	DropReasonMalformed     = "malformed"
)

var (
	CommandsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "commands_published_total",
		Help:      "Commands published to session command channels.",
	})
	ResultsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "results_resolved_total",
		Help:      "Results that resolved a pending ticket.",
	})
	ResultsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "results_dropped_total",
		Help:      "Results dropped at the channel boundary, by reason.",
	}, []string{"reason"})
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "sessions_active_total",
		Help:      "Number of active relay sessions on this process.",
	})
	ViewerStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "viewer_streams_total",
		Help:      "Number of attached live viewer streams.",
	})
)
