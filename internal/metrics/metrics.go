// Package metrics defines Prometheus instrumentation for the negotiation lab.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts newly created negotiation sessions.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_sessions_started_total",
		Help: "Number of negotiation sessions created",
	})

	// TurnsProcessed counts processed turns by outcome.
	TurnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "negotiation_turns_processed_total",
		Help: "Number of turns processed by the state machine",
	}, []string{"outcome"})

	// UpstreamFailures counts dialogue generator errors recovered by the
	// fallback reply.
	UpstreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_upstream_failures_total",
		Help: "Number of dialogue generator failures",
	})

	// AgreementsReached counts sessions that ended in a deal.
	AgreementsReached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_agreements_reached_total",
		Help: "Number of negotiations that reached agreement",
	})

	// SessionsExpired counts sessions that hit the deadline without a deal.
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_sessions_expired_total",
		Help: "Number of negotiations that ran out the clock",
	})

	// SessionsClosed counts sessions moved to the terminal phase by the
	// close worker.
	SessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "negotiation_sessions_closed_total",
		Help: "Number of sessions closed after the feedback phase",
	})
)

// Turn outcomes.
const (
	OutcomeReply     = "reply"
	OutcomeFallback  = "fallback"
	OutcomeExpired   = "expired"
	OutcomeAgreement = "agreement"
	OutcomeFeedback  = "feedback"
)
