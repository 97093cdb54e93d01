package client

import (
	"encoding/json"
	"time"
)

// CreateTaskRequest is the wire shape for POST /api/v1/tasks. Kept as a
// standalone copy of internal/task.CreateTaskRequest rather than an
// import of it: this package is the public SDK surface, and a consumer
// outside this module can't reach an internal/ package anyway.
type CreateTaskRequest struct {
	Type         string            `json:"type"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	MaxRetries   int               `json:"max_retries,omitempty"`
	Deadline     *time.Time        `json:"deadline,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TaskResponse is the wire shape returned for a single task.
type TaskResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Priority     string            `json:"priority"`
	Status       string            `json:"status"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	Error        *TaskError        `json:"error,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Created      time.Time         `json:"created"`
	Updated      time.Time         `json:"updated"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	WorkerID     string            `json:"worker_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TaskError mirrors internal/taskerr.TaskError's wire shape.
type TaskError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"recoverable"`
}

// TaskListResponse is the response shape for GET /api/v1/tasks.
type TaskListResponse struct {
	Pending    []*TaskResponse `json:"pending"`
	InProgress []*TaskResponse `json:"in_progress"`
	TotalCount int             `json:"total_count"`
}

// ErrorResponse is the shape every handler error response uses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WorkerInfo mirrors internal/worker.WorkerInfo's wire shape.
type WorkerInfo struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ActiveTasks   int       `json:"active_tasks"`
	Workers       int       `json:"workers"`
}

// WorkerListResponse is the response shape for GET /admin/workers.
type WorkerListResponse struct {
	Workers []WorkerInfo `json:"workers"`
	Count   int          `json:"count"`
}

// DLQListResponse is the response shape for GET /admin/dlq.
type DLQListResponse struct {
	Entries []*TaskResponse `json:"entries"`
	Stats   DLQStats        `json:"stats"`
}

// DLQStats mirrors internal/dlq.Stats's wire shape (no json tags on the
// source struct, so field names serialize verbatim).
type DLQStats struct {
	Count          int
	MaxSize        int
	AlertThreshold int
	AlertActive    bool
}

// RetryDLQRequest is the request body for POST /admin/dlq/retry.
type RetryDLQRequest struct {
	TaskID   string `json:"task_id,omitempty"`
	RetryAll bool   `json:"retry_all,omitempty"`
}

// RetryDLQResponse is the response body for POST /admin/dlq/retry.
type RetryDLQResponse struct {
	Message      string        `json:"message"`
	Task         *TaskResponse `json:"task,omitempty"`
	RetriedCount int           `json:"retried_count,omitempty"`
	FailedCount  int           `json:"failed_count,omitempty"`
}

// HealthResponse mirrors internal/storage.Health's wire shape (no json
// tags on the source struct, so field names serialize verbatim).
type HealthResponse struct {
	OK      bool
	Latency time.Duration
}

// QueueStats is a client-side summary derived from TaskListResponse.
type QueueStats struct {
	Pending    int
	InProgress int
	Total      int
}
