package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/metrics"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
)

// sideEffects emits post-commit audit events and notifications. Nothing here
// returns an error: a committed transition stays committed.
type sideEffects struct {
	audit    AuditSink
	notifier Notifier
	log      *logger.Logger
}

// appendAudit writes an audit event and logs a warning on failure.
func (fx sideEffects) appendAudit(ctx context.Context, event *repository.AuditEvent) {
	if fx.audit == nil {
		return
	}
	if err := fx.audit.Record(ctx, event); err != nil {
		metrics.AuditFailuresTotal.Inc()
		fx.log.Warn().Err(err).
			Str("activity_id", event.ActivityID).
			Str("action", event.Action).
			Msg("Failed to write audit event")
	}
}

// notify delivers n and logs a warning on failure.
func (fx sideEffects) notify(ctx context.Context, n Notification) {
	if fx.notifier == nil || n.Recipient == "" {
		return
	}
	if err := fx.notifier.Notify(ctx, n); err != nil {
		metrics.NotificationFailuresTotal.Inc()
		fx.log.Warn().Err(err).
			Str("activity_id", n.ActivityID).
			Str("recipient", n.Recipient).
			Str("kind", n.Kind).
			Msg("Failed to deliver notification")
	}
}

// notifyAdmins sends n to every administrator in snap.
func (fx sideEffects) notifyAdmins(ctx context.Context, snap *hierarchy.Snapshot, n Notification) {
	for _, u := range snap.Users() {
		if !u.IsAdmin() {
			continue
		}
		n.Recipient = u.Email
		fx.notify(ctx, n)
	}
}

// transition records the audit event and status metrics for a committed change.
func (fx sideEffects) transition(
	ctx context.Context,
	a *repository.SalesActivity,
	action, actor string,
	before repository.ApprovalStatus,
	metadata map[string]interface{},
) {
	statusBefore := string(before)
	statusAfter := string(a.ApprovalStatus)
	if before != a.ApprovalStatus {
		metrics.StatusTransitionsTotal.WithLabelValues(statusBefore, statusAfter).Inc()
	}
	fx.appendAudit(ctx, &repository.AuditEvent{
		ActivityID:   a.ID,
		Action:       action,
		PerformedBy:  actor,
		StatusBefore: &statusBefore,
		StatusAfter:  &statusAfter,
		Metadata:     metadata,
	})
}

// rejected counts an operation that failed its preconditions and passes the
// error through.
func rejected(operation string, err error) error {
	metrics.RejectedOperationsTotal.WithLabelValues(operation, string(errors.CodeOf(err))).Inc()
	return err
}

// observe records how long an operation took.
func observe(operation string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func strPtr(s string) *string { return &s }

func noteOrNil(note *string) *string {
	if note == nil || *note == "" {
		return nil
	}
	v := *note
	return &v
}
