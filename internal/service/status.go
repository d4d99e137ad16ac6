package service

import "github.com/pesio-ai/be-crm-activities/internal/repository"

// DeriveApprovalStatus computes the authoritative status from the two
// verification sub-states. It depends only on its inputs, never on the order
// in which verdicts arrived:
//
//   - both required verifications verified -> approved
//   - otherwise any not_verified           -> changes_requested
//   - otherwise                            -> current (pending or pending_assignment)
//
// A missing builder counts as satisfied.
func DeriveApprovalStatus(
	hasBuilder bool,
	builder, ro repository.VerificationStatus,
	current repository.ApprovalStatus,
) repository.ApprovalStatus {
	builderSatisfied := !hasBuilder || builder == repository.VerificationVerified
	roSatisfied := ro == repository.VerificationVerified

	if builderSatisfied && roSatisfied {
		return repository.StatusApproved
	}
	if builder == repository.VerificationNotVerified || ro == repository.VerificationNotVerified {
		return repository.StatusChangesRequested
	}
	return current
}

func deriveFor(a *repository.SalesActivity) repository.ApprovalStatus {
	return DeriveApprovalStatus(a.HasBuilder(), a.BuilderVerificationStatus, a.ROVerificationStatus, a.ApprovalStatus)
}
