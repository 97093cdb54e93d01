package task

import (
	"encoding/json"
	"time"

	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// CreateTaskRequest is the API request body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Type         Kind            `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     string          `json:"priority,omitempty"`
	MaxRetries   int             `json:"max_retries,omitempty"`
	Deadline     *time.Time      `json:"deadline,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TaskResponse is the API response shape for a task, with Priority and
// Status rendered as their string forms rather than the wire ints/enums.
type TaskResponse struct {
	ID           string             `json:"id"`
	Type         Kind               `json:"type"`
	Payload      json.RawMessage    `json:"payload,omitempty"`
	Priority     string             `json:"priority"`
	Status       string             `json:"status"`
	RetryCount   int                `json:"retry_count"`
	MaxRetries   int                `json:"max_retries"`
	Error        *taskerr.TaskError `json:"error,omitempty"`
	Result       json.RawMessage    `json:"result,omitempty"`
	Dependencies []string           `json:"dependencies,omitempty"`
	Created      time.Time          `json:"created"`
	Updated      time.Time          `json:"updated"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	WorkerID     string             `json:"worker_id,omitempty"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
}

// FromRequest builds a pending Task from a decoded CreateTaskRequest.
func FromRequest(req *CreateTaskRequest) *Task {
	priority := ParsePriority(req.Priority)
	t := New(req.Type, []byte(req.Payload), priority)

	if req.MaxRetries > 0 {
		t.MaxRetries = req.MaxRetries
	}
	t.Deadline = req.Deadline
	t.Dependencies = req.Dependencies
	if req.Metadata != nil {
		t.Metadata = req.Metadata
	}
	return t
}

// ToResponse renders t for the API/websocket surface.
func (t *Task) ToResponse() *TaskResponse {
	var payload, result json.RawMessage
	if len(t.Payload) > 0 {
		payload = json.RawMessage(t.Payload)
	}
	if len(t.Result) > 0 {
		result = json.RawMessage(t.Result)
	}
	return &TaskResponse{
		ID:           t.ID,
		Type:         t.Type,
		Payload:      payload,
		Priority:     t.Priority.String(),
		Status:       t.Status.String(),
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		Error:        t.Error,
		Result:       result,
		Dependencies: t.Dependencies,
		Created:      t.Created,
		Updated:      t.Updated,
		CompletedAt:  t.CompletedAt,
		WorkerID:     t.WorkerID,
		Metadata:     t.Metadata,
	}
}
