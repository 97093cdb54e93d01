package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// TaskHandler serves the task submission/lookup/cancel/list surface
// directly over Storage; the scheduler's poll loop is what actually
// claims and dispatches rows this handler writes.
type TaskHandler struct {
	store        storage.Store
	maxQueueSize int
}

// NewTaskHandler builds a TaskHandler. maxQueueSize bounds the non-DLQ
// backlog Create will admit; zero disables the check.
func NewTaskHandler(store storage.Store, maxQueueSize int) *TaskHandler {
	return &TaskHandler{store: store, maxQueueSize: maxQueueSize}
}

// Create handles POST /api/v1/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req task.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" || !req.Type.Valid() {
		h.respondError(w, http.StatusBadRequest, "task type is required and must be a valid kind")
		return
	}

	if h.maxQueueSize > 0 {
		backlog, err := h.store.CountBacklog(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("failed to count queue backlog")
			h.respondError(w, http.StatusInternalServerError, "failed to create task")
			return
		}
		if backlog >= h.maxQueueSize {
			taskErr := taskerr.New(taskerr.ResourceExhausted, "queue_full")
			h.respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
				Error:   string(taskErr.Code),
				Message: "task queue backlog has reached its configured maximum",
			})
			return
		}
	}

	t := task.FromRequest(&req)

	if err := h.store.SaveTask(r.Context(), t); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to save task")
		h.respondError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	logger.Info().
		Str("task_id", t.ID).
		Str("type", string(t.Type)).
		Str("priority", t.Priority.String()).
		Msg("task created")

	h.respondJSON(w, http.StatusCreated, t.ToResponse())
}

// Get handles GET /api/v1/tasks/{taskID}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		if err == storage.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	h.respondJSON(w, http.StatusOK, t.ToResponse())
}

// Cancel handles DELETE /api/v1/tasks/{taskID}. Only a task still waiting
// to be claimed can be cancelled; once in_progress it must run to
// completion or timeout, matching the status-transition closure that has
// no in_progress -> cancelled edge.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.store.GetTask(r.Context(), taskID)
	if err != nil {
		if err == storage.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	if t.Status != task.StatusPending {
		h.respondError(w, http.StatusConflict, "task cannot be cancelled in current state")
		return
	}

	failedStatus := task.StatusFailed
	if err := h.store.UpdateTask(r.Context(), taskID, storage.TaskPatch{Status: &failedStatus}); err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to cancel task")
		h.respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}
	t.Status = failedStatus

	logger.Info().Str("task_id", taskID).Msg("task cancelled")
	h.respondJSON(w, http.StatusOK, t.ToResponse())
}

// ListResponse is the response for listing the currently-pending and
// in-progress tasks.
type ListResponse struct {
	Pending    []*task.TaskResponse `json:"pending"`
	InProgress []*task.TaskResponse `json:"in_progress"`
	TotalCount int                  `json:"total_count"`
}

// List handles GET /api/v1/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.GetPending(r.Context(), 200)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list pending tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	inProgress, err := h.store.GetInProgress(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to list in-progress tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	resp := ListResponse{
		Pending:    toResponses(pending),
		InProgress: toResponses(inProgress),
		TotalCount: len(pending) + len(inProgress),
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func toResponses(tasks []*task.Task) []*task.TaskResponse {
	out := make([]*task.TaskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = t.ToResponse()
	}
	return out
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
