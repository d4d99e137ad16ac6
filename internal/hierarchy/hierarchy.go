// Package hierarchy resolves reporting lines and department membership over an
// immutable snapshot of the user directory.
//
// All lookups are total: unknown users resolve to empty values rather than
// errors. The directory is expected to be a forest, but every walk is bounded
// by the directory size and a user who sits on a reporting cycle is treated as
// having no manager.
package hierarchy

import (
	"sort"
	"strings"
)

// RoleAdmin is the directory role that grants administrative authority.
const RoleAdmin = "admin"

// User is one directory entry.
type User struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	JobTitle     string `json:"job_title"`
	Role         string `json:"role"`
	ReportsTo    string `json:"reports_to_email,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return strings.EqualFold(u.Role, RoleAdmin) }

// Snapshot is a point-in-time, read-only view of the directory.
type Snapshot struct {
	version int64
	users   map[string]User
	reports map[string][]string
}

// NewSnapshot indexes users by normalized email. Later duplicates win.
func NewSnapshot(version int64, users []User) *Snapshot {
	s := &Snapshot{
		version: version,
		users:   make(map[string]User, len(users)),
		reports: make(map[string][]string),
	}
	for _, u := range users {
		u.Email = Normalize(u.Email)
		u.ReportsTo = Normalize(u.ReportsTo)
		if u.Email == "" {
			continue
		}
		s.users[u.Email] = u
	}
	for email, u := range s.users {
		if u.ReportsTo != "" && u.ReportsTo != email {
			s.reports[u.ReportsTo] = append(s.reports[u.ReportsTo], email)
		}
	}
	for k := range s.reports {
		sort.Strings(s.reports[k])
	}
	return s
}

// Normalize lowercases and trims an email address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Version identifies the directory state the snapshot was taken from.
func (s *Snapshot) Version() int64 { return s.version }

// Len returns the number of users in the snapshot.
func (s *Snapshot) Len() int { return len(s.users) }

// User returns the directory entry for email.
func (s *Snapshot) User(email string) (User, bool) {
	u, ok := s.users[Normalize(email)]
	return u, ok
}

// Users returns all users ordered by email.
func (s *Snapshot) Users() []User {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// IsAdmin reports whether email belongs to an admin.
func (s *Snapshot) IsAdmin(email string) bool {
	u, ok := s.User(email)
	return ok && u.IsAdmin()
}

// ManagerOf returns the reporting officer of email, or "" when there is none,
// the user is unknown, or the user sits on a reporting cycle.
func (s *Snapshot) ManagerOf(email string) string {
	email = Normalize(email)
	u, ok := s.users[email]
	if !ok || u.ReportsTo == "" || u.ReportsTo == email {
		return ""
	}
	if s.onCycle(email) {
		return ""
	}
	return u.ReportsTo
}

// DepartmentOf returns the department id of email, or "".
func (s *Snapshot) DepartmentOf(email string) string {
	return s.users[Normalize(email)].DepartmentID
}

// DirectReports returns users whose reports_to is email, ordered by email.
func (s *Snapshot) DirectReports(email string) []string {
	direct := s.reports[Normalize(email)]
	out := make([]string, len(direct))
	copy(out, direct)
	return out
}

// SubordinatesOf returns the direct and transitive reports of email. The user
// itself is never included, even when a cycle leads back to it.
func (s *Snapshot) SubordinatesOf(email string) map[string]struct{} {
	root := Normalize(email)
	seen := map[string]struct{}{root: {}}
	out := make(map[string]struct{})

	queue := append([]string(nil), s.reports[root]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, done := seen[next]; done {
			continue
		}
		seen[next] = struct{}{}
		out[next] = struct{}{}
		queue = append(queue, s.reports[next]...)
	}
	return out
}

// ChainOf returns the management chain above email, nearest first. The walk
// stops at the root, at an unknown manager, or on the first repeated user.
func (s *Snapshot) ChainOf(email string) []string {
	cur := Normalize(email)
	seen := map[string]struct{}{cur: {}}
	var chain []string
	for i := 0; i <= len(s.users); i++ {
		u, ok := s.users[cur]
		if !ok || u.ReportsTo == "" {
			break
		}
		if _, dup := seen[u.ReportsTo]; dup {
			break
		}
		seen[u.ReportsTo] = struct{}{}
		chain = append(chain, u.ReportsTo)
		cur = u.ReportsTo
	}
	return chain
}

// onCycle reports whether walking up from email returns to email.
func (s *Snapshot) onCycle(email string) bool {
	cur := email
	for i := 0; i <= len(s.users); i++ {
		u, ok := s.users[cur]
		if !ok || u.ReportsTo == "" {
			return false
		}
		if u.ReportsTo == email {
			return true
		}
		cur = u.ReportsTo
	}
	// Walk exceeded the directory size: email feeds into a cycle it is not
	// part of. Its own manager link is still valid.
	return false
}

// WithManager returns a copy of the snapshot where owner reports to manager.
// The version is advanced by one.
func (s *Snapshot) WithManager(owner, manager string) *Snapshot {
	owner = Normalize(owner)
	users := s.Users()
	found := false
	for i := range users {
		if users[i].Email == owner {
			users[i].ReportsTo = Normalize(manager)
			found = true
		}
	}
	if !found {
		users = append(users, User{Email: owner, ReportsTo: Normalize(manager)})
	}
	return NewSnapshot(s.version+1, users)
}
