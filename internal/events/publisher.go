// Package events carries the lifecycle notifications described in spec
// §4.10: every state transition the scheduler, worker pool, recovery
// manager and DLQ make is published here so an external consumer (the
// websocket hub, an alerting sink) can observe the queue without polling
// storage directly.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// EventType enumerates the lifecycle events a component can publish.
type EventType string

const (
	TaskStarted          EventType = "task_started"
	TaskCompleted        EventType = "task_completed"
	TaskFailed           EventType = "task_failed"
	TaskRequeued         EventType = "task_requeued"
	TaskDeadLettered     EventType = "task_dead_lettered"
	TaskRecovered        EventType = "task_recovered"
	DLQThresholdExceeded EventType = "dlq_threshold_exceeded"
	QueueHealthWarning   EventType = "queue_health_warning"
)

// Event is the payload published on every lifecycle transition. Not every
// field applies to every Type: Error is set for TaskFailed and
// TaskDeadLettered, and for TaskRequeued when the retry policy requeues
// (a manual retry out of the DLQ publishes TaskRequeued without one);
// RetryCount only for TaskRequeued; Message carries free-form detail for
// TaskRecovered and the two queue-wide warning events, Data only for the
// two warning events.
type Event struct {
	Type       EventType              `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	TaskID     string                 `json:"task_id,omitempty"`
	TaskType   string                 `json:"task_type,omitempty"`
	WorkerID   string                 `json:"worker_id,omitempty"`
	RetryCount int                    `json:"retry_count,omitempty"`
	Error      *taskerr.TaskError     `json:"error,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps Timestamp and returns the event ready to publish.
func NewEvent(eventType EventType) *Event {
	return &Event{Type: eventType, Timestamp: time.Now().UTC()}
}

// ToJSON serializes the event to JSON.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event from JSON.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher is implemented by every event sink.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error)
	Close() error
}

// Subscriber is a local, in-process consumer of published events.
type Subscriber interface {
	OnEvent(event *Event)
	EventTypes() []EventType
}
