package service

import (
	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
)

// Visibility decides which activities and sales users a viewer may see.
// It only reads its inputs.
type Visibility struct {
	policy hierarchy.SalesPolicy
}

// NewVisibility creates a Visibility for the given sales policy.
func NewVisibility(policy hierarchy.SalesPolicy) *Visibility {
	return &Visibility{policy: policy}
}

// scope returns whether viewer sees everything and, if not, the set of owners
// whose activities are visible.
func (v *Visibility) scope(snap *hierarchy.Snapshot, viewer string) (bool, map[string]struct{}) {
	viewer = hierarchy.Normalize(viewer)
	if snap.IsAdmin(viewer) {
		return true, nil
	}
	owners := map[string]struct{}{viewer: {}}
	if v.policy.IsSalesManager(snap, viewer) {
		for sub := range v.policy.SalesTeamOf(snap, viewer) {
			owners[sub] = struct{}{}
		}
	}
	return false, owners
}

// VisibleActivities returns the subset of all visible to viewer, in input order.
func (v *Visibility) VisibleActivities(
	snap *hierarchy.Snapshot,
	viewer string,
	all []*repository.SalesActivity,
) []*repository.SalesActivity {
	everything, owners := v.scope(snap, viewer)
	out := make([]*repository.SalesActivity, 0, len(all))
	for _, a := range all {
		if everything {
			out = append(out, a)
			continue
		}
		if _, ok := owners[hierarchy.Normalize(a.OwnerEmail)]; ok {
			out = append(out, a)
		}
	}
	return out
}

// CanView reports whether viewer sees a under the listing rules.
func (v *Visibility) CanView(snap *hierarchy.Snapshot, viewer string, a *repository.SalesActivity) bool {
	return len(v.VisibleActivities(snap, viewer, []*repository.SalesActivity{a})) == 1
}

// CanAccess extends CanView to the two verifying authorities of a, so a
// builder or reporting officer can open what they are asked to verify.
func (v *Visibility) CanAccess(snap *hierarchy.Snapshot, viewer string, a *repository.SalesActivity) bool {
	if v.CanView(snap, viewer, a) {
		return true
	}
	viewer = hierarchy.Normalize(viewer)
	if a.HasBuilder() && hierarchy.Normalize(*a.BuilderEmail) == viewer {
		return true
	}
	m := snap.ManagerOf(a.OwnerEmail)
	return m != "" && m == viewer
}

// VisibleSalesUsers returns the sales users viewer may filter by.
func (v *Visibility) VisibleSalesUsers(snap *hierarchy.Snapshot, viewer string) []hierarchy.User {
	everything, owners := v.scope(snap, viewer)
	out := make([]hierarchy.User, 0)
	for _, u := range snap.Users() {
		if !v.policy.InSales(snap, u.Email) {
			continue
		}
		if everything {
			out = append(out, u)
			continue
		}
		if _, ok := owners[u.Email]; ok {
			out = append(out, u)
		}
	}
	return out
}
