package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/metrics"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
)

// VerificationService applies builder and reporting-officer verdicts to
// activities and reconciles them into one approval status.
type VerificationService struct {
	store     ActivityStore
	directory Directory
	fx        sideEffects
	log       *logger.Logger
}

// NewVerificationService creates a new VerificationService.
func NewVerificationService(
	store ActivityStore,
	directory Directory,
	audit AuditSink,
	notifier Notifier,
	log *logger.Logger,
) *VerificationService {
	return &VerificationService{
		store:     store,
		directory: directory,
		fx:        sideEffects{audit: audit, notifier: notifier, log: log},
		log:       log,
	}
}

// ── Verdicts ──────────────────────────────────────────────────────────────────

// ApplyVerification records a verdict from one authority. The verdict, the
// log entry and the recomputed status commit together; the owner is notified
// afterwards on a best-effort basis.
func (s *VerificationService) ApplyVerification(
	ctx context.Context,
	activityID string,
	authority repository.Authority,
	verdict repository.Verdict,
	actorEmail string,
	note *string,
) (*repository.SalesActivity, error) {
	const op = "apply_verification"
	defer observe(op, time.Now())

	actor := hierarchy.Normalize(actorEmail)
	if err := validateVerdict(authority, verdict, actor); err != nil {
		return nil, rejected(op, err)
	}

	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	note = noteOrNil(note)
	var before repository.ApprovalStatus

	updated, err := s.store.Update(ctx, activityID, func(a *repository.SalesActivity) error {
		if err := assertCanVerify(snap, a, authority, actor); err != nil {
			return err
		}
		before = a.ApprovalStatus

		switch authority {
		case repository.AuthorityBuilder:
			a.BuilderVerificationStatus = verdict.Status()
			a.BuilderNote = note
		case repository.AuthorityReportingOfficer:
			a.ROVerificationStatus = verdict.Status()
			a.RONote = note
		}

		a.WorkflowLogs = append(a.WorkflowLogs, repository.WorkflowLog{
			Action:     repository.VerdictAction(authority, verdict),
			ActorEmail: actor,
			Timestamp:  time.Now().UTC(),
			Note:       note,
		})
		a.ApprovalStatus = deriveFor(a)
		return nil
	})
	if err != nil {
		return nil, rejected(op, err)
	}

	metrics.VerdictsTotal.WithLabelValues(string(authority), string(verdict)).Inc()
	s.log.Info().
		Str("activity_id", updated.ID).
		Str("authority", string(authority)).
		Str("verdict", string(verdict)).
		Str("actor", actor).
		Str("status_before", string(before)).
		Str("status_after", string(updated.ApprovalStatus)).
		Msg("Verification applied")

	s.fx.transition(ctx, updated, repository.VerdictAction(authority, verdict), actor, before,
		map[string]interface{}{"authority": string(authority), "verdict": string(verdict)})
	s.fx.notify(ctx, verdictNotification(updated, authority, verdict, actor, note))

	return updated, nil
}

// ── Resubmission ──────────────────────────────────────────────────────────────

// ActivityChanges carries edited business fields. Only the variant matching
// the activity kind may be set.
type ActivityChanges struct {
	WalkIn  *repository.WalkInDetails
	Closure *repository.ClosureDetails
	Note    *string
}

// Resubmit reopens a changes_requested activity after its owner edited it.
// Both verification sub-states keep their previous values. An owner without a
// reporting officer lands back in pending_assignment.
func (s *VerificationService) Resubmit(
	ctx context.Context,
	activityID, actorEmail string,
	changes ActivityChanges,
) (*repository.SalesActivity, error) {
	const op = "resubmit"
	defer observe(op, time.Now())

	actor := hierarchy.Normalize(actorEmail)
	if actor == "" {
		return nil, rejected(op, errors.InvalidInput("actor_email", "actor is required"))
	}

	snap, err := s.directory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	note := noteOrNil(changes.Note)
	var before repository.ApprovalStatus

	updated, err := s.store.Update(ctx, activityID, func(a *repository.SalesActivity) error {
		if a.OwnerEmail != actor && !snap.IsAdmin(actor) {
			return errors.Unauthorized("only the owner can resubmit an activity")
		}
		if a.ApprovalStatus != repository.StatusChangesRequested {
			return errors.InvalidState(fmt.Sprintf("activity cannot be resubmitted from status '%s'", a.ApprovalStatus))
		}
		if err := applyChanges(a, changes); err != nil {
			return err
		}
		before = a.ApprovalStatus
		if snap.ManagerOf(a.OwnerEmail) == "" {
			a.ApprovalStatus = repository.StatusPendingAssignment
		} else {
			a.ApprovalStatus = repository.StatusPending
		}
		a.WorkflowLogs = append(a.WorkflowLogs, repository.WorkflowLog{
			Action:     repository.ActionResubmitted,
			ActorEmail: actor,
			Timestamp:  time.Now().UTC(),
			Note:       note,
		})
		return nil
	})
	if err != nil {
		return nil, rejected(op, err)
	}

	s.log.Info().
		Str("activity_id", updated.ID).
		Str("actor", actor).
		Msg("Activity resubmitted")

	s.fx.transition(ctx, updated, repository.ActionResubmitted, actor, before, nil)
	if updated.ApprovalStatus == repository.StatusPendingAssignment {
		s.fx.notifyAdmins(ctx, snap, Notification{
			Title:      "Reporting officer assignment required",
			Body:       fmt.Sprintf("%s resubmitted a %s activity for %s. The owner has no reporting officer.", actor, kindLabel(updated.Kind), updated.CustomerName()),
			Kind:       KindAssignmentRequired,
			ActivityID: updated.ID,
			ActorEmail: actor,
		})
	}
	for _, reviewer := range reviewersOf(snap, updated) {
		s.fx.notify(ctx, Notification{
			Recipient:  reviewer,
			Title:      "Activity resubmitted for review",
			Body:       fmt.Sprintf("%s updated the %s activity for %s after changes were requested.", actor, kindLabel(updated.Kind), updated.CustomerName()),
			Kind:       KindReviewRequested,
			ActivityID: updated.ID,
			ActorEmail: actor,
		})
	}

	return updated, nil
}

// ── Authorization & validation ────────────────────────────────────────────────

func validateVerdict(authority repository.Authority, verdict repository.Verdict, actor string) error {
	switch authority {
	case repository.AuthorityBuilder, repository.AuthorityReportingOfficer:
	default:
		return errors.InvalidInput("authority", fmt.Sprintf("unknown authority '%s'", authority))
	}
	switch verdict {
	case repository.VerdictVerified, repository.VerdictNotVerified:
	default:
		return errors.InvalidInput("verdict", fmt.Sprintf("unknown verdict '%s'", verdict))
	}
	if actor == "" {
		return errors.InvalidInput("actor_email", "actor is required")
	}
	return nil
}

// assertCanVerify checks that actor holds the given authority over a.
func assertCanVerify(snap *hierarchy.Snapshot, a *repository.SalesActivity, authority repository.Authority, actor string) error {
	isAdmin := snap.IsAdmin(actor)

	switch authority {
	case repository.AuthorityBuilder:
		if !a.HasBuilder() {
			return errors.InvalidState("activity does not require builder verification")
		}
		if hierarchy.Normalize(*a.BuilderEmail) == actor || isAdmin {
			return nil
		}
		return errors.Unauthorized("user is not the builder for this activity")
	case repository.AuthorityReportingOfficer:
		if manager := snap.ManagerOf(a.OwnerEmail); manager != "" && manager == actor {
			return nil
		}
		if isAdmin {
			return nil
		}
		return errors.Unauthorized("user is not the reporting officer for this activity")
	}
	return errors.InvalidInput("authority", fmt.Sprintf("unknown authority '%s'", authority))
}

func applyChanges(a *repository.SalesActivity, changes ActivityChanges) error {
	switch a.Kind {
	case repository.KindWalkIn:
		if changes.Closure != nil {
			return errors.InvalidInput("closure", "walk-in activity cannot take closure fields")
		}
		if changes.WalkIn != nil {
			if err := validateWalkIn(changes.WalkIn); err != nil {
				return err
			}
			w := *changes.WalkIn
			a.WalkIn = &w
		}
	case repository.KindClosure:
		if changes.WalkIn != nil {
			return errors.InvalidInput("walk_in", "closure activity cannot take walk-in fields")
		}
		if changes.Closure != nil {
			if err := validateClosure(changes.Closure); err != nil {
				return err
			}
			c := *changes.Closure
			a.Closure = &c
		}
	}
	return nil
}

// ── Notification content ──────────────────────────────────────────────────────

func verdictNotification(
	a *repository.SalesActivity,
	authority repository.Authority,
	verdict repository.Verdict,
	actor string,
	note *string,
) Notification {
	outcome := "verified"
	if verdict == repository.VerdictNotVerified {
		outcome = "rejected"
	}
	title := fmt.Sprintf("%s %s your activity", authorityLabel(authority), outcome)

	body := fmt.Sprintf("Your %s activity for %s was %s by the %s.",
		kindLabel(a.Kind), a.CustomerName(), outcome, strings.ToLower(authorityLabel(authority)))
	if note != nil {
		body = *note
	}

	return Notification{
		Recipient:  a.OwnerEmail,
		Title:      title,
		Body:       body,
		Kind:       KindStatusChange,
		ActivityID: a.ID,
		ActorEmail: actor,
	}
}

// reviewersOf returns the reporting officer and builder of a, when known.
func reviewersOf(snap *hierarchy.Snapshot, a *repository.SalesActivity) []string {
	var out []string
	if m := snap.ManagerOf(a.OwnerEmail); m != "" {
		out = append(out, m)
	}
	if a.HasBuilder() {
		out = append(out, hierarchy.Normalize(*a.BuilderEmail))
	}
	return out
}

func authorityLabel(a repository.Authority) string {
	if a == repository.AuthorityBuilder {
		return "Builder"
	}
	return "Reporting officer"
}

func kindLabel(k repository.ActivityKind) string {
	if k == repository.KindClosure {
		return "closure"
	}
	return "walk-in"
}
