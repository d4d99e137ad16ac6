package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pesio-ai/be-crm-activities/internal/repository"
	"github.com/pesio-ai/be-crm-activities/internal/service"
	"github.com/pesio-ai/be-crm-activities/pkg/errors"
	"github.com/pesio-ai/be-crm-activities/pkg/logger"
	"github.com/pesio-ai/be-crm-activities/pkg/middleware"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	activities   *service.ActivityService
	verification *service.VerificationService
	assignment   *service.AssignmentService
	log          *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	activities *service.ActivityService,
	verification *service.VerificationService,
	assignment *service.AssignmentService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		activities:   activities,
		verification: verification,
		assignment:   assignment,
		log:          log,
	}
}

// RegisterRoutes mounts the activity API on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/activities", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListActivities(w, r)
		case http.MethodPost:
			h.CreateActivity(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/activities/get", h.GetActivity)
	mux.HandleFunc("/api/v1/activities/verify", h.ApplyVerification)
	mux.HandleFunc("/api/v1/activities/resubmit", h.Resubmit)
	mux.HandleFunc("/api/v1/activities/assign-manager", h.AssignManager)
	mux.HandleFunc("/api/v1/activities/history", h.History)
	mux.HandleFunc("/api/v1/activities/pending", h.PendingVerifications)
	mux.HandleFunc("/api/v1/activities/unassigned", h.UnassignedQueue)
	mux.HandleFunc("/api/v1/sales-users", h.SalesUsers)
}

// CreateActivity handles create activity HTTP requests
func (h *HTTPHandler) CreateActivity(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createActivityDTO
	if !h.decode(w, r, &req) {
		return
	}
	if errs, ok := req.Ok(); !ok {
		writeValidationErrors(w, errs)
		return
	}

	activity, err := h.activities.CreateActivity(r.Context(), req.toRequest(actor))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, activity)
}

// GetActivity handles get activity HTTP requests
func (h *HTTPHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Activity ID is required", http.StatusBadRequest)
		return
	}

	activity, err := h.activities.GetActivity(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, activity)
}

// ListActivities handles list activities HTTP requests. Results are limited
// to what the caller may see.
func (h *HTTPHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter repository.ActivityFilter
	for _, owner := range q["owner"] {
		for _, e := range strings.Split(owner, ",") {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				filter.OwnerEmails = append(filter.OwnerEmails, e)
			}
		}
	}
	if kind := q.Get("kind"); kind != "" {
		k := repository.ActivityKind(kind)
		filter.Kind = &k
	}
	if status := q.Get("status"); status != "" {
		s := repository.ApprovalStatus(status)
		filter.ApprovalStatus = &s
	}
	if builder := q.Get("builder"); builder != "" {
		b := strings.ToLower(strings.TrimSpace(builder))
		filter.BuilderEmail = &b
	}

	activities, err := h.activities.ListVisible(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activities": activities,
		"total":      len(activities),
	})
}

// ApplyVerification handles verdict submission HTTP requests
func (h *HTTPHandler) ApplyVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req verifyDTO
	if !h.decode(w, r, &req) {
		return
	}
	if errs, ok := req.Ok(); !ok {
		writeValidationErrors(w, errs)
		return
	}

	activity, err := h.verification.ApplyVerification(r.Context(), req.ActivityID,
		repository.Authority(req.Authority), repository.Verdict(req.Verdict), actor, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, activity)
}

// Resubmit handles resubmission HTTP requests
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req resubmitDTO
	if !h.decode(w, r, &req) {
		return
	}
	if errs, ok := req.Ok(); !ok {
		writeValidationErrors(w, errs)
		return
	}

	activity, err := h.verification.Resubmit(r.Context(), req.ActivityID, actor, req.changes())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, activity)
}

// AssignManager handles manager assignment HTTP requests
func (h *HTTPHandler) AssignManager(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req assignManagerDTO
	if !h.decode(w, r, &req) {
		return
	}
	if errs, ok := req.Ok(); !ok {
		writeValidationErrors(w, errs)
		return
	}

	activity, err := h.assignment.AssignManager(r.Context(), req.ActivityID, req.ManagerEmail, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, activity)
}

// History handles workflow history HTTP requests
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Activity ID is required", http.StatusBadRequest)
		return
	}

	logs, err := h.activities.History(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activity_id":   id,
		"workflow_logs": logs,
	})
}

// PendingVerifications handles the caller's verification inbox
func (h *HTTPHandler) PendingVerifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	activities, err := h.activities.PendingVerifications(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activities": activities,
		"total":      len(activities),
	})
}

// UnassignedQueue handles the admin assignment queue
func (h *HTTPHandler) UnassignedQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	activities, err := h.assignment.UnassignedQueue(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activities": activities,
		"total":      len(activities),
	})
}

// SalesUsers handles the sales-user filter list
func (h *HTTPHandler) SalesUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	users, err := h.activities.VisibleSalesUsers(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": len(users),
	})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := middleware.ActorFromContext(r.Context())
	if actor == "" {
		http.Error(w, "Missing "+middleware.HeaderActor+" header", http.StatusUnauthorized)
		return "", false
	}
	return actor, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := httpStatus(code)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}

	body := map[string]string{"code": string(code), "error": err.Error()}
	if appErr, ok := errors.As(err); ok && appErr.Field != "" {
		body["field"] = appErr.Field
	}
	writeJSON(w, status, body)
}

func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		return http.StatusForbidden
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeInvalidState, errors.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeValidationErrors(w http.ResponseWriter, errs map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"code":   string(errors.ErrCodeInvalidInput),
		"error":  "validation failed",
		"fields": errs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
