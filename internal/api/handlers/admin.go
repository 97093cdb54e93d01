package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nexusflow/taskqueue/internal/dlq"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/worker"
)

// AdminHandler serves the operator-facing surface: worker pool
// visibility, DLQ inspection/retry, and queue-level purge.
type AdminHandler struct {
	store storage.Store
	dlq   *dlq.DeadLetterQueue
}

func NewAdminHandler(store storage.Store, d *dlq.DeadLetterQueue) *AdminHandler {
	return &AdminHandler{store: store, dlq: d}
}

// ListWorkers handles GET /admin/workers
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := worker.ActiveWorkers()
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// GetWorker handles GET /admin/workers/{workerID}
func (h *AdminHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}

	for _, wk := range worker.ActiveWorkers() {
		if wk.ID == workerID {
			h.respondJSON(w, http.StatusOK, wk)
			return
		}
	}

	h.respondError(w, http.StatusNotFound, "worker not found or not active")
}

// GetQueues handles GET /admin/queues
func (h *AdminHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.GetPending(r.Context(), 10000)
	if err != nil {
		logger.Error().Err(err).Msg("failed to get pending tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to get queue statistics")
		return
	}
	inProgress, err := h.store.GetInProgress(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to get in-progress tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to get queue statistics")
		return
	}

	byPriority := make(map[string]int)
	for _, t := range pending {
		byPriority[t.Priority.String()]++
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pending_by_priority": byPriority,
		"total_pending":       len(pending),
		"total_in_progress":   len(inProgress),
	})
}

// ListDLQ handles GET /admin/dlq
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := h.dlq.List(r.Context(), 100)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list DLQ")
		h.respondError(w, http.StatusInternalServerError, "failed to list DLQ")
		return
	}

	stats, err := h.dlq.Stats(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to get DLQ stats")
		h.respondError(w, http.StatusInternalServerError, "failed to list DLQ")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": toResponses(entries),
		"stats":   stats,
	})
}

// RetryDLQRequest represents a request to retry DLQ tasks
type RetryDLQRequest struct {
	TaskID   string `json:"task_id,omitempty"`
	RetryAll bool   `json:"retry_all,omitempty"`
}

// RetryDLQ handles POST /admin/dlq/retry
func (h *AdminHandler) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	var req RetryDLQRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RetryAll {
		count, errs := h.dlq.RetryAll(r.Context())
		if len(errs) > 0 {
			logger.Warn().Int("failed", len(errs)).Msg("some DLQ tasks failed to retry")
		}
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"message":       "tasks re-queued",
			"retried_count": count,
			"failed_count":  len(errs),
		})
		return
	}

	if req.TaskID == "" {
		h.respondError(w, http.StatusBadRequest, "task_id or retry_all is required")
		return
	}

	retried, err := h.dlq.Retry(r.Context(), req.TaskID)
	if err != nil {
		if err == storage.ErrTaskNotFound || err == storage.ErrNotInDLQ {
			h.respondError(w, http.StatusNotFound, "task not found in DLQ")
			return
		}
		logger.Error().Err(err).Str("task_id", req.TaskID).Msg("failed to retry DLQ task")
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "task re-queued",
		"task":    retried.ToResponse(),
	})
}

// ClearDLQ handles DELETE /admin/dlq
func (h *AdminHandler) ClearDLQ(w http.ResponseWriter, r *http.Request) {
	removed, err := h.dlq.Clear(r.Context())
	if err != nil {
		logger.Error().Err(err).Msg("failed to clear DLQ")
		h.respondError(w, http.StatusInternalServerError, "failed to clear DLQ")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "DLQ cleared",
		"removed": removed,
	})
}

// HealthCheck handles GET /admin/health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.store.Healthy(r.Context())
	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, health)
}

// RetryTask handles POST /admin/tasks/{taskID}/retry. Only a task
// currently in the dead_letter partition can be manually retried; the
// dead_letter -> pending edge is the only manual-retry transition, and a
// task in any other status is refused with 409.
func (h *AdminHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	retried, err := h.dlq.Retry(r.Context(), taskID)
	if err != nil {
		if err == storage.ErrTaskNotFound || err == storage.ErrNotInDLQ {
			h.respondError(w, http.StatusConflict, "only dead_letter tasks can be retried")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to retry task")
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}

	logger.Info().Str("task_id", taskID).Msg("task retried manually")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "task re-queued",
		"task":    retried.ToResponse(),
	})
}

// PauseWorker handles POST /admin/workers/{workerID}/pause
func (h *AdminHandler) PauseWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}
	pool, ok := worker.PoolByID(workerID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "worker not found or not active")
		return
	}

	pool.Pause()
	logger.Info().Str("worker_id", workerID).Msg("worker paused")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "worker paused",
		"worker_id": workerID,
	})
}

// ResumeWorker handles POST /admin/workers/{workerID}/resume
func (h *AdminHandler) ResumeWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}
	pool, ok := worker.PoolByID(workerID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "worker not found or not active")
		return
	}

	pool.Resume()
	logger.Info().Str("worker_id", workerID).Msg("worker resumed")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "worker resumed",
		"worker_id": workerID,
	})
}

// PurgeQueue handles DELETE /admin/queues/{priority}: fails every
// pending task at the given priority rather than deleting it outright,
// so the operation stays inside the status-transition closure and
// leaves an audit trail in Storage instead of erasing rows.
func (h *AdminHandler) PurgeQueue(w http.ResponseWriter, r *http.Request) {
	priorityParam := chi.URLParam(r, "priority")
	if priorityParam == "" {
		h.respondError(w, http.StatusBadRequest, "priority is required")
		return
	}

	p := task.ParsePriority(priorityParam)
	if priorityParam != p.String() {
		h.respondError(w, http.StatusBadRequest, "invalid priority: must be urgent, high, normal, or low")
		return
	}

	pending, err := h.store.GetPending(r.Context(), 10000)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list pending tasks for purge")
		h.respondError(w, http.StatusInternalServerError, "failed to purge queue")
		return
	}

	failedStatus := task.StatusFailed
	purged := 0
	for _, t := range pending {
		if t.Priority != p {
			continue
		}
		if err := h.store.UpdateTask(r.Context(), t.ID, storage.TaskPatch{Status: &failedStatus}); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to purge task")
			continue
		}
		purged++
	}

	logger.Info().Str("priority", priorityParam).Int("purged", purged).Msg("queue purged")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "queue purged",
		"priority": priorityParam,
		"purged":   purged,
	})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
