package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// Task is a unit of work accepted by the queue core. Payload and Result
// are opaque to the core: it persists and routes them, never interprets
// them beyond the Kind tag.
type Task struct {
	ID         string `json:"id"`
	Type       Kind   `json:"type"`
	Payload    []byte `json:"payload,omitempty"`
	Priority   Priority
	Status     Status
	Weight     *float64   `json:"weight,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Created    time.Time  `json:"created"`
	Updated    time.Time  `json:"updated"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount int              `json:"retry_count"`
	MaxRetries int              `json:"max_retries"`
	Error      *taskerr.TaskError `json:"error,omitempty"`
	Result     []byte           `json:"result,omitempty"`

	Dependencies []string `json:"dependencies,omitempty"`

	MovedToDLQAt *time.Time `json:"moved_to_dlq_at,omitempty"`
	Heartbeat    *time.Time `json:"heartbeat,omitempty"`

	// EligibleAt is the earliest wall-clock instant this task may be
	// claimed again. Used by the retry policy's backoff (§4.7 step 5);
	// get_pending honours it by excluding tasks whose EligibleAt is in
	// the future.
	EligibleAt *time.Time `json:"eligible_at,omitempty"`

	WorkerID string            `json:"worker_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates a new pending Task with default retry and priority.
func New(kind Kind, payload []byte, priority Priority) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:         uuid.New().String(),
		Type:       kind,
		Payload:    payload,
		Priority:   priority,
		Status:     StatusPending,
		Created:    now,
		Updated:    now,
		MaxRetries: 3,
		Metadata:   make(map[string]string),
	}
}

// CanRetry reports whether the task has retry budget remaining.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// WeightOrDefault returns the task's weight, defaulting to 0.5 per the
// PriorityScorer contract when unset.
func (t *Task) WeightOrDefault() float64 {
	if t.Weight == nil {
		return 0.5
	}
	return *t.Weight
}

// Touch advances Updated to now, satisfying the monotone-updated
// invariant. Every mutating operation must call this.
func (t *Task) Touch() {
	now := time.Now().UTC()
	if now.After(t.Updated) {
		t.Updated = now
	} else {
		// Guarantee strict monotonicity even under clock resolution
		// limits or backdated test clocks.
		t.Updated = t.Updated.Add(time.Nanosecond)
	}
}

// ToJSON serializes the task.
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON deserializes a task.
func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Clone returns a deep-enough copy for safe concurrent read access
// (scorer, admission controller) while the scheduler mutates the
// original.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Weight != nil {
		w := *t.Weight
		cp.Weight = &w
	}
	if t.Deadline != nil {
		d := *t.Deadline
		cp.Deadline = &d
	}
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
