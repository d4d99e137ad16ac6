package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for sales activity verification ─────────────────────────────

// ActivityKind tags the SalesActivity union.
type ActivityKind string

const (
	KindWalkIn  ActivityKind = "walk_in"
	KindClosure ActivityKind = "closure"
)

// VerificationStatus is the state of one authority's verification.
type VerificationStatus string

const (
	VerificationUnset       VerificationStatus = "unset"
	VerificationPending     VerificationStatus = "pending"
	VerificationVerified    VerificationStatus = "verified"
	VerificationNotVerified VerificationStatus = "not_verified"
)

// ApprovalStatus is the single authoritative status derived from both
// verification sub-states.
type ApprovalStatus string

const (
	StatusPendingAssignment ApprovalStatus = "pending_assignment"
	StatusPending           ApprovalStatus = "pending"
	StatusApproved          ApprovalStatus = "approved"
	StatusChangesRequested  ApprovalStatus = "changes_requested"
)

// Authority is one of the two independent verifying parties.
type Authority string

const (
	AuthorityBuilder          Authority = "builder"
	AuthorityReportingOfficer Authority = "reporting_officer"
)

// Verdict is a verification outcome.
type Verdict string

const (
	VerdictVerified    Verdict = "verified"
	VerdictNotVerified Verdict = "not_verified"
)

// Status maps a verdict onto the sub-state it produces.
func (v Verdict) Status() VerificationStatus {
	if v == VerdictVerified {
		return VerificationVerified
	}
	return VerificationNotVerified
}

// Workflow log actions written outside of verdict submission.
const (
	ActionResubmitted     = "resubmitted"
	ActionManagerAssigned = "manager_assigned"
)

// VerdictAction renders the workflow log action for a verdict, e.g.
// "builder_verified" or "reporting_officer_not_verified".
func VerdictAction(a Authority, v Verdict) string {
	return string(a) + "_" + string(v)
}

// WorkflowLog is one immutable entry in an activity's history.
type WorkflowLog struct {
	Action     string    `json:"action"`
	ActorEmail string    `json:"actor_email"`
	Timestamp  time.Time `json:"timestamp"`
	Note       *string   `json:"note,omitempty"`
}

// WalkInDetails are the fields specific to a walk-in visit.
type WalkInDetails struct {
	CustomerName string    `json:"customer_name"`
	ProjectName  string    `json:"project_name"`
	VisitDate    time.Time `json:"visit_date"`
}

// ClosureDetails are the fields specific to a closed deal.
type ClosureDetails struct {
	CustomerName string          `json:"customer_name"`
	UnitNumber   string          `json:"unit_number"`
	DealValue    decimal.Decimal `json:"deal_value"`
	ClosureDate  time.Time       `json:"closure_date"`
}

// SalesActivity is one customer-facing sales event. Exactly one of WalkIn and
// Closure is set, matching Kind.
type SalesActivity struct {
	ID                        string             `json:"id"`
	Kind                      ActivityKind       `json:"kind"`
	OwnerEmail                string             `json:"owner_email"`
	BuilderEmail              *string            `json:"builder_email,omitempty"`
	BuilderVerificationStatus VerificationStatus `json:"builder_verification_status"`
	ROVerificationStatus      VerificationStatus `json:"ro_verification_status"`
	ApprovalStatus            ApprovalStatus     `json:"approval_status"`
	BuilderNote               *string            `json:"builder_note,omitempty"`
	RONote                    *string            `json:"ro_note,omitempty"`
	WalkIn                    *WalkInDetails     `json:"walk_in,omitempty"`
	Closure                   *ClosureDetails    `json:"closure,omitempty"`
	WorkflowLogs              []WorkflowLog      `json:"workflow_logs"`
	Version                   int64              `json:"version"`
	CreatedAt                 time.Time          `json:"created_at"`
	UpdatedAt                 time.Time          `json:"updated_at"`
}

// HasBuilder reports whether builder verification is required.
func (a *SalesActivity) HasBuilder() bool {
	return a.BuilderEmail != nil && *a.BuilderEmail != ""
}

// CustomerName returns the customer name from whichever variant is set.
func (a *SalesActivity) CustomerName() string {
	switch {
	case a.WalkIn != nil:
		return a.WalkIn.CustomerName
	case a.Closure != nil:
		return a.Closure.CustomerName
	}
	return ""
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (a *SalesActivity) Clone() *SalesActivity {
	if a == nil {
		return nil
	}
	c := *a
	c.BuilderEmail = cloneString(a.BuilderEmail)
	c.BuilderNote = cloneString(a.BuilderNote)
	c.RONote = cloneString(a.RONote)
	if a.WalkIn != nil {
		w := *a.WalkIn
		c.WalkIn = &w
	}
	if a.Closure != nil {
		cl := *a.Closure
		c.Closure = &cl
	}
	c.WorkflowLogs = make([]WorkflowLog, len(a.WorkflowLogs))
	for i, l := range a.WorkflowLogs {
		l.Note = cloneString(l.Note)
		c.WorkflowLogs[i] = l
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ActivityFilter narrows List results. Nil fields are ignored.
type ActivityFilter struct {
	OwnerEmails    []string
	Kind           *ActivityKind
	ApprovalStatus *ApprovalStatus
	BuilderEmail   *string
}

// Matches reports whether a satisfies the filter.
func (f ActivityFilter) Matches(a *SalesActivity) bool {
	if len(f.OwnerEmails) > 0 {
		found := false
		for _, e := range f.OwnerEmails {
			if e == a.OwnerEmail {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Kind != nil && a.Kind != *f.Kind {
		return false
	}
	if f.ApprovalStatus != nil && a.ApprovalStatus != *f.ApprovalStatus {
		return false
	}
	if f.BuilderEmail != nil && (a.BuilderEmail == nil || *a.BuilderEmail != *f.BuilderEmail) {
		return false
	}
	return true
}

// AuditEvent is one immutable record in the workflow audit log.
type AuditEvent struct {
	ID           string
	ActivityID   string
	Action       string
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore *string
	StatusAfter  *string
	Metadata     map[string]interface{}
}
