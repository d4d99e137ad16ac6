package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	fail bool
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return fmt.Errorf("broker unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) to(recipient string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, m := range n.sent {
		if m.Recipient == recipient {
			out = append(out, m)
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, *repository.AuditEvent) error {
	return fmt.Errorf("audit store down")
}

type fixture struct {
	store      *repository.MemoryActivityStore
	directory  *repository.MemoryDirectory
	audit      *repository.MemoryAuditLog
	notifier   *recordingNotifier
	activities *ActivityService
	verify     *VerificationService
	assign     *AssignmentService
}

var salesPolicy = hierarchy.SalesPolicy{DepartmentID: "sales", ManagerKeywords: []string{"manager", "head"}}

func directoryUsers() []hierarchy.User {
	return []hierarchy.User{
		{Email: "admin@x.com", Role: hierarchy.RoleAdmin, JobTitle: "Administrator"},
		{Email: "head@x.com", DepartmentID: "sales", JobTitle: "Head of Sales", ReportsTo: "admin@x.com"},
		{Email: "mgr@x.com", DepartmentID: "sales", JobTitle: "Sales Manager", ReportsTo: "head@x.com"},
		{Email: "rep@x.com", DepartmentID: "sales", JobTitle: "Sales Executive", ReportsTo: "mgr@x.com"},
		{Email: "rep2@x.com", DepartmentID: "sales", JobTitle: "Sales Executive", ReportsTo: "mgr@x.com"},
		{Email: "peer@x.com", DepartmentID: "sales", JobTitle: "Sales Executive", ReportsTo: "head@x.com"},
		{Email: "orphan@x.com", DepartmentID: "sales", JobTitle: "Sales Executive"},
		{Email: "ops@x.com", DepartmentID: "ops", JobTitle: "Coordinator", ReportsTo: "mgr@x.com"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     repository.NewMemoryActivityStore(),
		directory: repository.NewMemoryDirectory(directoryUsers()),
		audit:     repository.NewMemoryAuditLog(),
		notifier:  &recordingNotifier{},
	}
	log := logger.Nop()
	f.activities = NewActivityService(f.store, f.directory, NewVisibility(salesPolicy), f.audit, f.notifier, log)
	f.verify = NewVerificationService(f.store, f.directory, f.audit, f.notifier, log)
	f.assign = NewAssignmentService(f.store, f.directory, f.audit, f.notifier, log)
	return f
}

func (f *fixture) walkIn(t *testing.T, owner string, builder *string) *repository.SalesActivity {
	t.Helper()
	a, err := f.activities.CreateActivity(context.Background(), &CreateActivityRequest{
		Kind:         repository.KindWalkIn,
		OwnerEmail:   owner,
		BuilderEmail: builder,
		WalkIn: &repository.WalkInDetails{
			CustomerName: "Asha Rao",
			ProjectName:  "Lakeview Towers",
			VisitDate:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) closure(t *testing.T, owner string, builder *string) *repository.SalesActivity {
	t.Helper()
	a, err := f.activities.CreateActivity(context.Background(), &CreateActivityRequest{
		Kind:         repository.KindClosure,
		OwnerEmail:   owner,
		BuilderEmail: builder,
		Closure: &repository.ClosureDetails{
			CustomerName: "Vikram Shah",
			UnitNumber:   "B-1204",
			DealValue:    decimal.RequireFromString("8450000.00"),
			ClosureDate:  time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) get(t *testing.T, id string) *repository.SalesActivity {
	t.Helper()
	a, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

// requireStatusInvariant checks approved <=> both required verifications verified.
func requireStatusInvariant(t *testing.T, a *repository.SalesActivity) {
	t.Helper()
	builderOK := !a.HasBuilder() || a.BuilderVerificationStatus == repository.VerificationVerified
	roOK := a.ROVerificationStatus == repository.VerificationVerified
	require.Equal(t, builderOK && roOK, a.ApprovalStatus == repository.StatusApproved,
		"status %s with builder=%s ro=%s", a.ApprovalStatus, a.BuilderVerificationStatus, a.ROVerificationStatus)
}

func ptr(s string) *string { return &s }
