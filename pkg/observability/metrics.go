package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain counters. Registered on the default registry, which the
// /metrics listener exposes.
var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "care_sessions_started_total",
		Help: "Sessions created, excluding idempotent replays",
	})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_sessions_ended_total",
		Help: "Sessions ended, by initiator",
	}, []string{"ended_by"})

	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_quota_denials_total",
		Help: "Session starts denied by the quota enforcer, by reason",
	}, []string{"reason"})

	CrisisInterventions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_crisis_interventions_total",
		Help: "Crisis engine interventions, by severity tier",
	}, []string{"severity"})

	RedactionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "care_redaction_failures_total",
		Help: "Redaction gateway calls that failed or timed out",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "care_bus_events_published_total",
		Help: "Events published to the in-process bus, by event name",
	}, []string{"event"})
)
