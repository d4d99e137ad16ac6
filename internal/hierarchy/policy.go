package hierarchy

import "strings"

// SalesPolicy decides who manages a sales team.
type SalesPolicy struct {
	DepartmentID    string
	ManagerKeywords []string
}

// InSales reports whether email belongs to the sales department.
func (p SalesPolicy) InSales(s *Snapshot, email string) bool {
	dept := s.DepartmentOf(email)
	return dept != "" && strings.EqualFold(dept, p.DepartmentID)
}

// IsSalesManager reports whether email manages a sales team: the user must be
// in the sales department and either carry a manager-like job title or have at
// least one direct report in sales.
func (p SalesPolicy) IsSalesManager(s *Snapshot, email string) bool {
	u, ok := s.User(email)
	if !ok || !p.InSales(s, email) {
		return false
	}
	title := strings.ToLower(u.JobTitle)
	for _, kw := range p.ManagerKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(title, kw) {
			return true
		}
	}
	for _, r := range s.DirectReports(email) {
		if p.InSales(s, r) {
			return true
		}
	}
	return false
}

// SalesTeamOf returns the transitive sales subordinates of email.
func (p SalesPolicy) SalesTeamOf(s *Snapshot, email string) map[string]struct{} {
	team := make(map[string]struct{})
	for sub := range s.SubordinatesOf(email) {
		if p.InSales(s, sub) {
			team[sub] = struct{}{}
		}
	}
	return team
}
