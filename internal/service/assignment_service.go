package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
)

// AssignmentService escalates activities whose owner has no reporting officer.
type AssignmentService struct {
	store     ActivityStore
	directory Directory
	fx        sideEffects
	log       *logger.Logger
}

// NewAssignmentService creates a new AssignmentService.
func NewAssignmentService(
	store ActivityStore,
	directory Directory,
	audit AuditSink,
	notifier Notifier,
	log *logger.Logger,
) *AssignmentService {
	return &AssignmentService{
		store:     store,
		directory: directory,
		fx:        sideEffects{audit: audit, notifier: notifier, log: log},
		log:       log,
	}
}

// AssignManager binds the owner of a pending_assignment activity to a manager
// and reopens the activity for review. Calling it on an activity in any other
// status fails with InvalidState and changes nothing.
func (s *AssignmentService) AssignManager(
	ctx context.Context,
	activityID, managerEmail, actingAdmin string,
) (*repository.SalesActivity, error) {
	const op = "assign_manager"
	defer observe(op, time.Now())

	admin := hierarchy.Normalize(actingAdmin)
	manager := hierarchy.Normalize(managerEmail)

	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.IsAdmin(admin) {
		return nil, rejected(op, errors.Unauthorized("only administrators can assign managers"))
	}
	if manager == "" {
		return nil, rejected(op, errors.InvalidInput("manager_email", "manager is required"))
	}
	if _, ok := snap.User(manager); !ok {
		return nil, rejected(op, errors.InvalidInput("manager_email", "manager is not in the directory"))
	}

	current, err := s.store.GetByID(ctx, activityID)
	if err != nil {
		return nil, rejected(op, err)
	}
	if err := assertAssignable(current, manager); err != nil {
		return nil, rejected(op, err)
	}
	for _, above := range snap.ChainOf(manager) {
		if above == current.OwnerEmail {
			return nil, rejected(op, errors.InvalidInput("manager_email", "assignment would create a reporting cycle"))
		}
	}

	// The owner is bound under the activity lock and only after the state
	// check passes. The binding outlives this activity: later activities from
	// the same owner route to the new manager.
	previous := snap.ManagerOf(current.OwnerEmail)
	bound := false
	var before repository.ApprovalStatus
	updated, err := s.store.Update(ctx, activityID, func(a *repository.SalesActivity) error {
		if err := assertAssignable(a, manager); err != nil {
			return err
		}
		if !bound {
			if err := s.directory.UpdateManager(ctx, a.OwnerEmail, manager); err != nil {
				return err
			}
			bound = true
		}
		before = a.ApprovalStatus
		a.ApprovalStatus = repository.StatusPending
		a.WorkflowLogs = append(a.WorkflowLogs, repository.WorkflowLog{
			Action:     repository.ActionManagerAssigned,
			ActorEmail: admin,
			Timestamp:  time.Now().UTC(),
			Note:       strPtr(manager),
		})
		return nil
	})
	if err != nil && bound {
		if rerr := s.directory.UpdateManager(ctx, current.OwnerEmail, previous); rerr != nil {
			s.log.Error().Err(rerr).
				Str("activity_id", activityID).
				Str("owner", current.OwnerEmail).
				Msg("Failed to restore manager after aborted assignment")
		}
	}
	if err != nil {
		return nil, rejected(op, err)
	}

	s.log.Info().
		Str("activity_id", updated.ID).
		Str("owner", updated.OwnerEmail).
		Str("manager", manager).
		Str("admin", admin).
		Msg("Manager assigned")

	s.fx.transition(ctx, updated, repository.ActionManagerAssigned, admin, before,
		map[string]interface{}{"manager_email": manager, "owner_email": updated.OwnerEmail})
	s.fx.notify(ctx, Notification{
		Recipient:  manager,
		Title:      "Review requested",
		Body:       fmt.Sprintf("You are now the reporting officer for %s. Please review their %s activity for %s.", updated.OwnerEmail, kindLabel(updated.Kind), updated.CustomerName()),
		Kind:       KindReviewRequested,
		ActivityID: updated.ID,
		ActorEmail: admin,
	})

	return updated, nil
}

// UnassignedQueue lists activities waiting for a manager binding.
func (s *AssignmentService) UnassignedQueue(ctx context.Context, actingAdmin string) ([]*repository.SalesActivity, error) {
	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.IsAdmin(actingAdmin) {
		return nil, errors.Unauthorized("only administrators can view the assignment queue")
	}
	status := repository.StatusPendingAssignment
	return s.store.List(ctx, repository.ActivityFilter{ApprovalStatus: &status})
}

func assertAssignable(a *repository.SalesActivity, manager string) error {
	if a.ApprovalStatus != repository.StatusPendingAssignment {
		return errors.InvalidState(fmt.Sprintf("activity is not awaiting assignment (status: %s)", a.ApprovalStatus))
	}
	if a.OwnerEmail == manager {
		return errors.InvalidInput("manager_email", "owner cannot be their own manager")
	}
	return nil
}
