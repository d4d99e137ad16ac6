package service

import (
	"context"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
)

// ActivityStore is the durable record store for sales activities.
// Update must run mutate atomically with respect to other updates of the same
// activity and must leave the record untouched when mutate returns an error.
type ActivityStore interface {
	Create(ctx context.Context, a *repository.SalesActivity) error
	GetByID(ctx context.Context, id string) (*repository.SalesActivity, error)
	List(ctx context.Context, filter repository.ActivityFilter) ([]*repository.SalesActivity, error)
	Update(ctx context.Context, id string, mutate func(*repository.SalesActivity) error) (*repository.SalesActivity, error)
}

// Directory is the external user directory.
type Directory interface {
	Snapshot(ctx context.Context) (*hierarchy.Snapshot, error)
	UpdateManager(ctx context.Context, ownerEmail, managerEmail string) error
}

// AuditSink records workflow events. Failures are logged, never surfaced.
type AuditSink interface {
	Record(ctx context.Context, event *repository.AuditEvent) error
}

// Notification kinds.
const (
	KindStatusChange       = "status_change"
	KindReviewRequested    = "review_requested"
	KindAssignmentRequired = "assignment_required"
)

// Notification is one message for one recipient.
type Notification struct {
	Recipient  string
	Title      string
	Body       string
	Kind       string
	ActivityID string
	ActorEmail string
}

// Notifier delivers notifications. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
