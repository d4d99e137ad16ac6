package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
)

// ActivityService handles activity creation and the read side of the workflow.
type ActivityService struct {
	store      ActivityStore
	directory  Directory
	visibility *Visibility
	fx         sideEffects
	log        *logger.Logger
}

// NewActivityService creates a new activity service.
func NewActivityService(
	store ActivityStore,
	directory Directory,
	visibility *Visibility,
	audit AuditSink,
	notifier Notifier,
	log *logger.Logger,
) *ActivityService {
	return &ActivityService{
		store:      store,
		directory:  directory,
		visibility: visibility,
		fx:         sideEffects{audit: audit, notifier: notifier, log: log},
		log:        log,
	}
}

// CreateActivityRequest represents a create activity request
type CreateActivityRequest struct {
	Kind         repository.ActivityKind
	OwnerEmail   string
	BuilderEmail *string
	WalkIn       *repository.WalkInDetails
	Closure      *repository.ClosureDetails
	ActorEmail   string
}

// ── Create ────────────────────────────────────────────────────────────────────

// CreateActivity validates and stores a new activity, routing it to the
// owner's reporting officer or, when the owner has none, to the assignment
// queue.
func (s *ActivityService) CreateActivity(ctx context.Context, req *CreateActivityRequest) (*repository.SalesActivity, error) {
	owner := hierarchy.Normalize(req.OwnerEmail)
	actor := hierarchy.Normalize(req.ActorEmail)
	if owner == "" {
		return nil, errors.InvalidInput("owner_email", "owner is required")
	}
	if actor == "" {
		actor = owner
	}

	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if actor != owner && !snap.IsAdmin(actor) {
		return nil, errors.Unauthorized("activities can only be logged by their owner")
	}

	activity := &repository.SalesActivity{
		Kind:                      req.Kind,
		OwnerEmail:                owner,
		BuilderVerificationStatus: repository.VerificationUnset,
		ROVerificationStatus:      repository.VerificationPending,
		WorkflowLogs:              []repository.WorkflowLog{},
	}

	switch req.Kind {
	case repository.KindWalkIn:
		if req.WalkIn == nil || req.Closure != nil {
			return nil, errors.InvalidInput("walk_in", "walk-in activity requires walk-in fields only")
		}
		if err := validateWalkIn(req.WalkIn); err != nil {
			return nil, err
		}
		w := *req.WalkIn
		activity.WalkIn = &w
	case repository.KindClosure:
		if req.Closure == nil || req.WalkIn != nil {
			return nil, errors.InvalidInput("closure", "closure activity requires closure fields only")
		}
		if err := validateClosure(req.Closure); err != nil {
			return nil, err
		}
		c := *req.Closure
		activity.Closure = &c
	default:
		return nil, errors.InvalidInput("kind", fmt.Sprintf("invalid activity kind '%s'", req.Kind))
	}

	if req.BuilderEmail != nil && strings.TrimSpace(*req.BuilderEmail) != "" {
		builder := hierarchy.Normalize(*req.BuilderEmail)
		if builder == owner {
			return nil, errors.InvalidInput("builder_email", "owner cannot verify their own activity as builder")
		}
		activity.BuilderEmail = &builder
		activity.BuilderVerificationStatus = repository.VerificationPending
	}

	manager := snap.ManagerOf(owner)
	if manager == "" {
		activity.ApprovalStatus = repository.StatusPendingAssignment
	} else {
		activity.ApprovalStatus = repository.StatusPending
	}

	if err := s.store.Create(ctx, activity); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("activity_id", activity.ID).
		Str("kind", string(activity.Kind)).
		Str("owner", owner).
		Str("status", string(activity.ApprovalStatus)).
		Msg("Activity created")

	statusAfter := string(activity.ApprovalStatus)
	s.fx.appendAudit(ctx, &repository.AuditEvent{
		ActivityID:  activity.ID,
		Action:      "created",
		PerformedBy: actor,
		StatusAfter: &statusAfter,
		Metadata:    map[string]interface{}{"kind": string(activity.Kind), "directory_version": snap.Version()},
	})

	s.notifyCreated(ctx, snap, activity, actor)
	return activity, nil
}

func (s *ActivityService) notifyCreated(ctx context.Context, snap *hierarchy.Snapshot, a *repository.SalesActivity, actor string) {
	body := fmt.Sprintf("%s logged a %s activity for %s.", a.OwnerEmail, kindLabel(a.Kind), a.CustomerName())

	if a.ApprovalStatus == repository.StatusPendingAssignment {
		s.fx.notifyAdmins(ctx, snap, Notification{
			Title:      "Reporting officer assignment required",
			Body:       body + " The owner has no reporting officer.",
			Kind:       KindAssignmentRequired,
			ActivityID: a.ID,
			ActorEmail: actor,
		})
	}
	for _, reviewer := range reviewersOf(snap, a) {
		s.fx.notify(ctx, Notification{
			Recipient:  reviewer,
			Title:      "Verification requested",
			Body:       body,
			Kind:       KindReviewRequested,
			ActivityID: a.ID,
			ActorEmail: actor,
		})
	}
}

// ── Read side ─────────────────────────────────────────────────────────────────

// GetActivity returns an activity the viewer may access. Activities outside
// the viewer's reach are reported as not found.
func (s *ActivityService) GetActivity(ctx context.Context, id, viewer string) (*repository.SalesActivity, error) {
	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !s.visibility.CanAccess(snap, viewer, a) {
		return nil, errors.NotFound("activity", id)
	}
	return a, nil
}

// History returns the workflow log of an accessible activity.
func (s *ActivityService) History(ctx context.Context, id, viewer string) ([]repository.WorkflowLog, error) {
	a, err := s.GetActivity(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	return a.WorkflowLogs, nil
}

// ListVisible returns the activities matching filter that viewer may see.
func (s *ActivityService) ListVisible(ctx context.Context, viewer string, filter repository.ActivityFilter) ([]*repository.SalesActivity, error) {
	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.visibility.VisibleActivities(snap, viewer, all), nil
}

// VisibleSalesUsers returns the sales users viewer may filter by.
func (s *ActivityService) VisibleSalesUsers(ctx context.Context, viewer string) ([]hierarchy.User, error) {
	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.visibility.VisibleSalesUsers(snap, viewer), nil
}

// PendingVerifications returns activities still waiting on a verdict from
// actor, either as named builder or as the owner's reporting officer.
func (s *ActivityService) PendingVerifications(ctx context.Context, actor string) ([]*repository.SalesActivity, error) {
	actor = hierarchy.Normalize(actor)
	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	all, err := s.store.List(ctx, repository.ActivityFilter{})
	if err != nil {
		return nil, err
	}

	out := make([]*repository.SalesActivity, 0)
	for _, a := range all {
		if a.ApprovalStatus == repository.StatusApproved {
			continue
		}
		builderDue := a.HasBuilder() &&
			hierarchy.Normalize(*a.BuilderEmail) == actor &&
			a.BuilderVerificationStatus == repository.VerificationPending
		roDue := a.ROVerificationStatus == repository.VerificationPending &&
			snap.ManagerOf(a.OwnerEmail) == actor
		if builderDue || roDue {
			out = append(out, a)
		}
	}
	return out, nil
}

// ── Validation ────────────────────────────────────────────────────────────────

func validateWalkIn(w *repository.WalkInDetails) error {
	if strings.TrimSpace(w.CustomerName) == "" {
		return errors.InvalidInput("customer_name", "customer name is required")
	}
	if w.VisitDate.IsZero() {
		return errors.InvalidInput("visit_date", "visit date is required")
	}
	return nil
}

func validateClosure(c *repository.ClosureDetails) error {
	if strings.TrimSpace(c.CustomerName) == "" {
		return errors.InvalidInput("customer_name", "customer name is required")
	}
	if c.DealValue.IsNegative() {
		return errors.InvalidInput("deal_value", "deal value cannot be negative")
	}
	if c.ClosureDate.IsZero() {
		return errors.InvalidInput("closure_date", "closure date is required")
	}
	return nil
}
