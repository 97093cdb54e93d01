// Package storage is the durable persistence layer: tasks, results, metric
// samples, the dead-letter partition, and the advisory-lock primitive all
// live behind the narrow Store interface defined here. The only
// implementation is Postgres (postgres.go); the interface exists so the
// scheduler, worker pool, and recovery manager depend on a contract rather
// than a driver.
package storage

import (
	"context"
	"time"

	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// TaskPatch is a conditional partial update applied by UpdateTask. Only
// non-nil fields are written; Updated is always refreshed server-side
// regardless of which fields are present.
type TaskPatch struct {
	Status       *task.Status
	Priority     *task.Priority
	WorkerID     *string
	RetryCount   *int
	Error        *taskerr.TaskError
	ClearError   bool
	Result       []byte
	Heartbeat    *time.Time
	CompletedAt  *time.Time
	ClearCompletedAt bool
	MovedToDLQAt *time.Time
	ClearMovedToDLQAt bool
	EligibleAt   *time.Time
	ClearEligibleAt bool
	Weight       *float64
}

// Result is the persisted outcome of a completed task, stored separately
// from the task row so result payloads can be retained or purged on their
// own schedule.
type Result struct {
	TaskID  string
	Result  []byte
	Error   *taskerr.TaskError
	Created time.Time
}

// MetricSample is a single append-only observation in the metrics table,
// written through AppendMetric. MetricsCollector keeps its rolling window
// in memory and does not write to this table.
type MetricSample struct {
	ID        int64
	Name      string
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// Health reports the outcome of a liveness probe against the store.
type Health struct {
	OK      bool
	Latency time.Duration
	Err     error
}

// Store is the full persistence contract the rest of the core programs
// against.
type Store interface {
	SaveTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) error
	GetPending(ctx context.Context, limit int) ([]*task.Task, error)
	GetInProgress(ctx context.Context) ([]*task.Task, error)
	CountBacklog(ctx context.Context) (int, error)
	ClaimOne(ctx context.Context) (*task.Task, error)

	SaveResult(ctx context.Context, taskID string, result []byte, taskErr *taskerr.TaskError) error
	GetResult(ctx context.Context, taskID string) (*Result, error)

	AppendMetric(ctx context.Context, name string, value float64, labels map[string]string) error
	QueryMetrics(ctx context.Context, name string, from, to time.Time) ([]MetricSample, error)

	TryAdvisoryLock(ctx context.Context, lockID int64) (bool, error)
	ReleaseAdvisoryLock(ctx context.Context, lockID int64) error
	CheckAdvisoryLock(ctx context.Context, lockID int64) (bool, error)

	MoveToDLQ(ctx context.Context, t *task.Task) error
	DLQCount(ctx context.Context) (int, error)
	GetDLQ(ctx context.Context, limit int) ([]*task.Task, error)
	RemoveFromDLQ(ctx context.Context, id string) error
	CleanupDLQ(ctx context.Context, before time.Time) (int, error)

	Cleanup(ctx context.Context, before time.Time) (int, error)
	Healthy(ctx context.Context) Health
	Close()
}
