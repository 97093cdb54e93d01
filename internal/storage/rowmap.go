package storage

import (
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

const taskColumns = `id, type, status, priority, payload, weight, deadline, dependencies,
	created, updated, completed_at, moved_to_dlq_at, eligible_at, heartbeat,
	worker_id, retry_count, max_retries, error, result, metadata`

// scanTask reads a row with columns in taskColumns order into a Task. Used
// by every query that returns full task rows.
func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t            task.Task
		priority     int16
		dependencies []byte
		errJSON      []byte
		metadata     []byte
		workerID     *string
	)

	err := row.Scan(
		&t.ID, &t.Type, &t.Status, &priority, &t.Payload, &t.Weight, &t.Deadline, &dependencies,
		&t.Created, &t.Updated, &t.CompletedAt, &t.MovedToDLQAt, &t.EligibleAt, &t.Heartbeat,
		&workerID, &t.RetryCount, &t.MaxRetries, &errJSON, &t.Result, &metadata,
	)
	if err != nil {
		return nil, err
	}
	t.Priority = task.Priority(priority)
	if workerID != nil {
		t.WorkerID = *workerID
	}

	if len(dependencies) > 0 {
		if err := json.Unmarshal(dependencies, &t.Dependencies); err != nil {
			return nil, err
		}
	}
	if len(errJSON) > 0 {
		var te taskerr.TaskError
		if err := json.Unmarshal(errJSON, &te); err != nil {
			return nil, err
		}
		t.Error = &te
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, err
		}
	}

	return &t, nil
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch vv := v.(type) {
	case []string:
		if len(vv) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(vv) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
