package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskwell/assignd/internal/assign"
	"github.com/taskwell/assignd/internal/domain"
	"github.com/taskwell/assignd/internal/store"
)

// AssignmentService is the slice of the orchestrator the HTTP layer needs.
type AssignmentService interface {
	// RecomputeNow synchronously re-runs assignment for the task.
	RecomputeNow(ctx context.Context, taskID int64) (*domain.AssignmentDecision, error)

	// GetEligibleUsers returns the task's ranked eligible pool without
	// committing anything.
	GetEligibleUsers(ctx context.Context, taskID int64) ([]domain.UserProjection, error)
}

// AssignmentHandler serves assignment endpoints.
type AssignmentHandler struct {
	service AssignmentService
	logger  *slog.Logger
}

// NewAssignmentHandler creates a handler backed by the given service.
func NewAssignmentHandler(service AssignmentService, logger *slog.Logger) *AssignmentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssignmentHandler{
		service: service,
		logger:  logger.With(slog.String("component", "assignment_handler")),
	}
}

// Routes mounts the assignment endpoints on a chi router.
func (h *AssignmentHandler) Routes(r chi.Router) {
	r.Post("/tasks/{id}/recompute", h.RecomputeTask)
	r.Get("/tasks/{id}/eligible-users", h.EligibleUsers)
}

type eligibleUsersResponse struct {
	TaskID int64                   `json:"task_id"`
	Users  []domain.UserProjection `json:"eligible_users"`
	Count  int                     `json:"count"`
}

// RecomputeTask handles POST /tasks/{id}/recompute. An empty eligible pool
// is a 200 with a null assignee_id, never an error status.
func (h *AssignmentHandler) RecomputeTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	decision, err := h.service.RecomputeNow(r.Context(), taskID)
	if err != nil {
		h.respondError(w, r, taskID, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, decision)
}

// EligibleUsers handles GET /tasks/{id}/eligible-users.
func (h *AssignmentHandler) EligibleUsers(w http.ResponseWriter, r *http.Request) {
	taskID, ok := h.taskID(w, r)
	if !ok {
		return
	}

	users, err := h.service.GetEligibleUsers(r.Context(), taskID)
	if err != nil {
		h.respondError(w, r, taskID, err)
		return
	}
	if users == nil {
		users = []domain.UserProjection{}
	}
	RespondWithJSON(w, http.StatusOK, eligibleUsersResponse{
		TaskID: taskID,
		Users:  users,
		Count:  len(users),
	})
}

func (h *AssignmentHandler) taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, r, 0, fmt.Errorf("%w: task id %q", domain.ErrInvalidID, raw))
		return 0, false
	}
	return id, true
}

func (h *AssignmentHandler) respondError(w http.ResponseWriter, r *http.Request, taskID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidID):
		RespondWithError(w, http.StatusBadRequest, "invalid task ID")
	case store.IsNotFound(err):
		RespondWithError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrInvalidRuleValue), errors.Is(err, domain.ErrUnknownRuleKey):
		h.logger.Error("stored rules failed validation", "task_id", taskID, "error", err)
		RespondWithError(w, http.StatusUnprocessableEntity, "task has invalid assignment rules")
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, assign.ErrDispatchFailed):
		h.logger.Error("assignment temporarily unavailable",
			"task_id", taskID, "path", r.URL.Path, "error", err)
		RespondWithError(w, http.StatusServiceUnavailable, "assignment temporarily unavailable, retry later")
	default:
		h.logger.Error("assignment request failed",
			"task_id", taskID, "path", r.URL.Path, "error", err)
		RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}
