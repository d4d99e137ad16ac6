package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testDirectory() *Snapshot {
	return NewSnapshot(1, []User{
		{Email: "ceo@x.com", Role: RoleAdmin, JobTitle: "CEO"},
		{Email: "head@x.com", ReportsTo: "ceo@x.com", DepartmentID: "sales", JobTitle: "Head of Sales"},
		{Email: "lead@x.com", ReportsTo: "head@x.com", DepartmentID: "sales", JobTitle: "Senior Executive"},
		{Email: "rep1@x.com", ReportsTo: "lead@x.com", DepartmentID: "sales", JobTitle: "Sales Executive"},
		{Email: "rep2@x.com", ReportsTo: "lead@x.com", DepartmentID: "sales", JobTitle: "Sales Executive"},
		{Email: "ops@x.com", ReportsTo: "head@x.com", DepartmentID: "ops", JobTitle: "Coordinator"},
		{Email: "ops2@x.com", ReportsTo: "ops@x.com", DepartmentID: "sales", JobTitle: "Sales Executive"},
		{Email: "Loner@X.com", DepartmentID: "sales", JobTitle: "Sales Executive"},
	})
}

func TestManagerOf(t *testing.T) {
	s := testDirectory()

	require.Equal(t, "lead@x.com", s.ManagerOf("rep1@x.com"))
	require.Equal(t, "lead@x.com", s.ManagerOf("  REP1@x.com "))
	require.Equal(t, "", s.ManagerOf("loner@x.com"))
	require.Equal(t, "", s.ManagerOf("ceo@x.com"))
	require.Equal(t, "", s.ManagerOf("nobody@x.com"))
}

func TestDepartmentOf(t *testing.T) {
	s := testDirectory()

	require.Equal(t, "sales", s.DepartmentOf("rep2@x.com"))
	require.Equal(t, "ops", s.DepartmentOf("ops@x.com"))
	require.Equal(t, "", s.DepartmentOf("ceo@x.com"))
	require.Equal(t, "", s.DepartmentOf("nobody@x.com"))
}

func TestSubordinatesOf_Transitive(t *testing.T) {
	s := testDirectory()

	subs := s.SubordinatesOf("head@x.com")
	require.Len(t, subs, 5)
	for _, e := range []string{"lead@x.com", "rep1@x.com", "rep2@x.com", "ops@x.com", "ops2@x.com"} {
		require.Contains(t, subs, e)
	}

	require.Empty(t, s.SubordinatesOf("rep1@x.com"))
	require.Empty(t, s.SubordinatesOf("nobody@x.com"))
}

func TestChainOf(t *testing.T) {
	s := testDirectory()
	require.Equal(t, []string{"lead@x.com", "head@x.com", "ceo@x.com"}, s.ChainOf("rep1@x.com"))
	require.Empty(t, s.ChainOf("ceo@x.com"))
}

func TestCycle_FailsClosed(t *testing.T) {
	s := NewSnapshot(1, []User{
		{Email: "a@x.com", ReportsTo: "b@x.com"},
		{Email: "b@x.com", ReportsTo: "a@x.com"},
		{Email: "c@x.com", ReportsTo: "a@x.com"},
		{Email: "self@x.com", ReportsTo: "self@x.com"},
	})

	require.Equal(t, "", s.ManagerOf("a@x.com"))
	require.Equal(t, "", s.ManagerOf("b@x.com"))
	require.Equal(t, "", s.ManagerOf("self@x.com"))
	// c feeds into the cycle but is not on it.
	require.Equal(t, "a@x.com", s.ManagerOf("c@x.com"))

	subs := s.SubordinatesOf("a@x.com")
	require.Len(t, subs, 2)
	require.Contains(t, subs, "b@x.com")
	require.Contains(t, subs, "c@x.com")
	require.NotContains(t, subs, "a@x.com")

	require.Equal(t, []string{"a@x.com", "b@x.com"}, s.ChainOf("c@x.com"))
	require.Empty(t, s.SubordinatesOf("self@x.com"))
}

func TestWithManager(t *testing.T) {
	s := testDirectory()
	next := s.WithManager("loner@x.com", "Lead@x.com")

	require.Equal(t, int64(2), next.Version())
	require.Equal(t, "lead@x.com", next.ManagerOf("loner@x.com"))
	require.Equal(t, "", s.ManagerOf("loner@x.com"), "original snapshot must not change")
	require.Contains(t, next.SubordinatesOf("lead@x.com"), "loner@x.com")
}

func TestSalesPolicy_IsSalesManager(t *testing.T) {
	s := testDirectory()
	p := SalesPolicy{DepartmentID: "sales", ManagerKeywords: []string{"manager", "head"}}

	require.True(t, p.IsSalesManager(s, "head@x.com"), "title keyword")
	require.True(t, p.IsSalesManager(s, "lead@x.com"), "has sales direct reports")
	require.False(t, p.IsSalesManager(s, "rep1@x.com"))
	require.False(t, p.IsSalesManager(s, "ops@x.com"), "not in sales department")
	require.False(t, p.IsSalesManager(s, "ceo@x.com"))
}

func TestSalesPolicy_SalesTeamOf(t *testing.T) {
	s := testDirectory()
	p := SalesPolicy{DepartmentID: "sales"}

	team := p.SalesTeamOf(s, "head@x.com")
	require.Len(t, team, 4)
	require.NotContains(t, team, "ops@x.com")
	require.Contains(t, team, "ops2@x.com")
}
