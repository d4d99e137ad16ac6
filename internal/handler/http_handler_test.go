package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-crm-activities/internal/hierarchy"
	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/internal/service"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
	"github.com/pesio-ai/be-crm-activities/pkg/middleware"
)

type testServices struct {
	activities   *service.ActivityService
	verification *service.VerificationService
	assignment   *service.AssignmentService
}

func newTestServices() testServices {
	log := logger.Nop()
	store := repository.NewMemoryActivityStore()
	dir := repository.NewMemoryDirectory([]hierarchy.User{
		{Email: "admin@x.com", Role: hierarchy.RoleAdmin},
		{Email: "mgr@x.com", DepartmentID: "sales", JobTitle: "Sales Manager"},
		{Email: "rep@x.com", DepartmentID: "sales", ReportsTo: "mgr@x.com"},
		{Email: "rep2@x.com", DepartmentID: "sales", ReportsTo: "mgr@x.com"},
		{Email: "orphan@x.com", DepartmentID: "sales"},
	})
	audit := repository.NewMemoryAuditLog()
	vis := service.NewVisibility(hierarchy.SalesPolicy{DepartmentID: "sales", ManagerKeywords: []string{"manager"}})
	return testServices{
		activities:   service.NewActivityService(store, dir, vis, audit, nil, log),
		verification: service.NewVerificationService(store, dir, audit, nil, log),
		assignment:   service.NewAssignmentService(store, dir, audit, nil, log),
	}
}

func newTestServer() http.Handler {
	s := newTestServices()
	h := NewHTTPHandler(s.activities, s.verification, s.assignment, logger.Nop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return middleware.RequestID(middleware.Actor(mux))
}

func do(t *testing.T, srv http.Handler, method, path, actor string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set(middleware.HeaderActor, actor)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeActivity(t *testing.T, rec *httptest.ResponseRecorder) repository.SalesActivity {
	t.Helper()
	var a repository.SalesActivity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	return a
}

func createWalkIn(t *testing.T, srv http.Handler, owner string) repository.SalesActivity {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/activities", owner, map[string]interface{}{
		"kind": "walk_in",
		"walk_in": map[string]interface{}{
			"customer_name": "Asha Rao",
			"project_name":  "Lakeview Towers",
			"visit_date":    "2026-03-14T10:00:00Z",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeActivity(t, rec)
}

func TestHTTP_CreateVerifyAndHistory(t *testing.T) {
	srv := newTestServer()
	a := createWalkIn(t, srv, "rep@x.com")
	assert.Equal(t, "rep@x.com", a.OwnerEmail)
	assert.Equal(t, repository.StatusPending, a.ApprovalStatus)

	rec := do(t, srv, http.MethodPost, "/api/v1/activities/verify", "mgr@x.com", map[string]interface{}{
		"activity_id": a.ID,
		"authority":   "reporting_officer",
		"verdict":     "verified",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, repository.StatusApproved, decodeActivity(t, rec).ApprovalStatus)

	rec = do(t, srv, http.MethodGet, "/api/v1/activities/history?id="+a.ID, "rep@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		WorkflowLogs []repository.WorkflowLog `json:"workflow_logs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.WorkflowLogs, 1)
	assert.Equal(t, "reporting_officer_verified", history.WorkflowLogs[0].Action)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	srv := newTestServer()
	a := createWalkIn(t, srv, "rep@x.com")

	cases := []struct {
		name   string
		method string
		path   string
		actor  string
		body   interface{}
		want   int
		code   string
	}{
		{"missing actor", http.MethodGet, "/api/v1/activities", "", nil, http.StatusUnauthorized, ""},
		{"wrong method", http.MethodDelete, "/api/v1/activities", "rep@x.com", nil, http.StatusMethodNotAllowed, ""},
		{"validation", http.MethodPost, "/api/v1/activities/verify", "mgr@x.com",
			map[string]string{"activity_id": a.ID, "authority": "auditor", "verdict": "verified"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"unauthorized", http.MethodPost, "/api/v1/activities/verify", "rep2@x.com",
			map[string]string{"activity_id": a.ID, "authority": "reporting_officer", "verdict": "verified"}, http.StatusForbidden, "UNAUTHORIZED"},
		{"not found", http.MethodGet, "/api/v1/activities/get?id=missing", "rep@x.com", nil, http.StatusNotFound, "NOT_FOUND"},
		{"hidden is not found", http.MethodGet, "/api/v1/activities/get?id=" + a.ID, "rep2@x.com", nil, http.StatusNotFound, "NOT_FOUND"},
		{"invalid state", http.MethodPost, "/api/v1/activities/assign-manager", "admin@x.com",
			map[string]string{"activity_id": a.ID, "manager_email": "mgr@x.com"}, http.StatusConflict, "INVALID_STATE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, srv, tc.method, tc.path, tc.actor, tc.body)
			require.Equal(t, tc.want, rec.Code, rec.Body.String())
			if tc.code != "" {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tc.code, body["code"])
			}
		})
	}
}

func TestHTTP_AssignmentFlow(t *testing.T) {
	srv := newTestServer()
	z := createWalkIn(t, srv, "orphan@x.com")
	require.Equal(t, repository.StatusPendingAssignment, z.ApprovalStatus)

	rec := do(t, srv, http.MethodGet, "/api/v1/activities/unassigned", "admin@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queue struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	assert.Equal(t, 1, queue.Total)

	rec = do(t, srv, http.MethodPost, "/api/v1/activities/assign-manager", "admin@x.com",
		map[string]string{"activity_id": z.ID, "manager_email": "mgr@x.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, repository.StatusPending, decodeActivity(t, rec).ApprovalStatus)

	rec = do(t, srv, http.MethodGet, "/api/v1/activities/pending", "mgr@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queue))
	assert.Equal(t, 1, queue.Total)
}

func TestHTTP_ListAndSalesUsers(t *testing.T) {
	srv := newTestServer()
	createWalkIn(t, srv, "rep@x.com")
	createWalkIn(t, srv, "rep2@x.com")

	var list struct {
		Activities []repository.SalesActivity `json:"activities"`
		Total      int                        `json:"total"`
	}
	rec := do(t, srv, http.MethodGet, "/api/v1/activities", "rep@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	rec = do(t, srv, http.MethodGet, "/api/v1/activities?owner=rep2@x.com", "mgr@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "rep2@x.com", list.Activities[0].OwnerEmail)

	rec = do(t, srv, http.MethodGet, "/api/v1/sales-users", "mgr@x.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	assert.Equal(t, 3, users.Total)
}

func TestHTTP_Resubmit(t *testing.T) {
	srv := newTestServer()
	a := createWalkIn(t, srv, "rep@x.com")

	rec := do(t, srv, http.MethodPost, "/api/v1/activities/verify", "mgr@x.com", map[string]interface{}{
		"activity_id": a.ID, "authority": "reporting_officer", "verdict": "not_verified", "note": "wrong project",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repository.StatusChangesRequested, decodeActivity(t, rec).ApprovalStatus)

	rec = do(t, srv, http.MethodPost, "/api/v1/activities/resubmit", "rep@x.com", map[string]interface{}{
		"activity_id": a.ID,
		"walk_in": map[string]interface{}{
			"customer_name": "Asha Rao",
			"project_name":  "Hillside Residences",
			"visit_date":    "2026-03-14T10:00:00Z",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeActivity(t, rec)
	assert.Equal(t, repository.StatusPending, got.ApprovalStatus)
	assert.Equal(t, "Hillside Residences", got.WalkIn.ProjectName)
}
