package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DocumentUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docservice", Name: "document_updates_total", Help: "Document update attempts by outcome."},
		[]string{"outcome"},
	)
	LockContention = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docservice", Name: "lock_contention_total", Help: "Lock or update attempts rejected because another editor holds the lock."},
		[]string{"op"},
	)
	LocksReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "docservice", Name: "locks_reclaimed_total", Help: "Expired locks cleared by the reclaim sweep."},
	)
	VersionConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "docservice", Name: "version_conflicts_total", Help: "Updates that exhausted the optimistic retry budget."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docservice", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docservice", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(DocumentUpdates)
	reg.MustRegister(LockContention)
	reg.MustRegister(LocksReclaimed)
	reg.MustRegister(VersionConflicts)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
