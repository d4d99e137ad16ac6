package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the verification workflow.
var (
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_verdicts_total",
			Help: "Verification verdicts committed, by authority and verdict",
		},
		[]string{"authority", "verdict"},
	)

	StatusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_status_transitions_total",
			Help: "Approval status transitions committed",
		},
		[]string{"from", "to"},
	)

	RejectedOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_operations_rejected_total",
			Help: "Workflow operations rejected before mutation, by operation and error code",
		},
		[]string{"operation", "code"},
	)

	NotificationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_notification_failures_total",
			Help: "Notifications that could not be delivered",
		},
	)

	AuditFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_audit_failures_total",
			Help: "Audit events that could not be recorded",
		},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_operation_duration_seconds",
			Help:    "Duration of workflow operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Register registers all workflow metrics with reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(VerdictsTotal)
	reg.MustRegister(StatusTransitionsTotal)
	reg.MustRegister(RejectedOperationsTotal)
	reg.MustRegister(NotificationFailuresTotal)
	reg.MustRegister(AuditFailuresTotal)
	reg.MustRegister(OperationDuration)
}
