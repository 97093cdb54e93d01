package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

func (s *PostgresStore) SaveTask(ctx context.Context, t *task.Task) error {
	deps, err := marshalOrNil(t.Dependencies)
	if err != nil {
		return err
	}
	meta, err := marshalOrNil(t.Metadata)
	if err != nil {
		return err
	}
	var errJSON []byte
	if t.Error != nil {
		if errJSON, err = marshalOrNil(t.Error); err != nil {
			return err
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, status = EXCLUDED.status, priority = EXCLUDED.priority,
			payload = EXCLUDED.payload, weight = EXCLUDED.weight, deadline = EXCLUDED.deadline,
			dependencies = EXCLUDED.dependencies, created = EXCLUDED.created, updated = EXCLUDED.updated,
			completed_at = EXCLUDED.completed_at, moved_to_dlq_at = EXCLUDED.moved_to_dlq_at,
			eligible_at = EXCLUDED.eligible_at, heartbeat = EXCLUDED.heartbeat, worker_id = EXCLUDED.worker_id,
			retry_count = EXCLUDED.retry_count, max_retries = EXCLUDED.max_retries, error = EXCLUDED.error,
			result = EXCLUDED.result, metadata = EXCLUDED.metadata`,
		t.ID, t.Type, t.Status, int16(t.Priority), t.Payload, t.Weight, t.Deadline, deps,
		t.Created, t.Updated, t.CompletedAt, t.MovedToDLQAt, t.EligibleAt, t.Heartbeat,
		nullString(t.WorkerID), t.RetryCount, t.MaxRetries, errJSON, t.Result, meta,
	)
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if isNotFound(err) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// UpdateTask applies patch in place without a read-modify-write race: every
// touched column is written unconditionally in a single statement, and
// updated is always bumped server-side so concurrent patches from
// different components (scheduler vs. recovery) never clobber each other's
// timestamp.
func (s *PostgresStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) error {
	sets := []string{"updated = now()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		sets = append(sets, "status = "+arg(*patch.Status))
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = "+arg(int16(*patch.Priority)))
	}
	if patch.WorkerID != nil {
		sets = append(sets, "worker_id = "+arg(nullString(*patch.WorkerID)))
	}
	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = "+arg(*patch.RetryCount))
	}
	if patch.ClearError {
		sets = append(sets, "error = NULL")
	} else if patch.Error != nil {
		b, err := marshalOrNil(patch.Error)
		if err != nil {
			return err
		}
		sets = append(sets, "error = "+arg(b))
	}
	if patch.Result != nil {
		sets = append(sets, "result = "+arg(patch.Result))
	}
	if patch.Heartbeat != nil {
		sets = append(sets, "heartbeat = "+arg(*patch.Heartbeat))
	}
	if patch.ClearCompletedAt {
		sets = append(sets, "completed_at = NULL")
	} else if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = "+arg(*patch.CompletedAt))
	}
	if patch.ClearMovedToDLQAt {
		sets = append(sets, "moved_to_dlq_at = NULL")
	} else if patch.MovedToDLQAt != nil {
		sets = append(sets, "moved_to_dlq_at = "+arg(*patch.MovedToDLQAt))
	}
	if patch.ClearEligibleAt {
		sets = append(sets, "eligible_at = NULL")
	} else if patch.EligibleAt != nil {
		sets = append(sets, "eligible_at = "+arg(*patch.EligibleAt))
	}
	if patch.Weight != nil {
		sets = append(sets, "weight = "+arg(*patch.Weight))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// GetPending returns pending, eligible tasks ordered by (priority desc,
// created asc), excluding anything still serving out a retry backoff and
// excluding the dead-letter partition entirely per the storage contract.
func (s *PostgresStore) GetPending(ctx context.Context, limit int) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND (eligible_at IS NULL OR eligible_at <= now())
		ORDER BY priority DESC, created ASC
		LIMIT $2`, task.StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *PostgresStore) GetInProgress(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = $1`, task.StatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// CountBacklog returns the number of non-DLQ, non-terminal tasks (pending
// plus in_progress), for the Producer interface's max_queue_size admission
// check. A single COUNT avoids paging the whole backlog through Go just to
// size it, unlike GetPending/GetInProgress which materialize rows.
func (s *PostgresStore) CountBacklog(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM tasks WHERE status IN ($1, $2)`,
		task.StatusPending, task.StatusInProgress).Scan(&count)
	return count, err
}

// ClaimOne atomically picks the single best pending task and flips it to
// in_progress, using SKIP LOCKED so concurrent schedulers racing this query
// never pick the same row.
func (s *PostgresStore) ClaimOne(ctx context.Context) (*task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND (eligible_at IS NULL OR eligible_at <= now())
		ORDER BY priority DESC, created ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, task.StatusPending)

	t, err := scanTask(row)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, updated = now() WHERE id = $2`,
		task.StatusInProgress, t.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	t.Status = task.StatusInProgress
	return t, nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, taskID string, result []byte, taskErr *taskerr.TaskError) error {
	var errJSON []byte
	var err error
	if taskErr != nil {
		if errJSON, err = marshalOrNil(taskErr); err != nil {
			return err
		}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO task_results (task_id, result, error, created) VALUES ($1, $2, $3, now())`,
		taskID, result, errJSON)
	return err
}

func (s *PostgresStore) GetResult(ctx context.Context, taskID string) (*Result, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT task_id, result, error, created FROM task_results
		WHERE task_id = $1 ORDER BY created DESC LIMIT 1`, taskID)

	var r Result
	var errJSON []byte
	if err := row.Scan(&r.TaskID, &r.Result, &errJSON, &r.Created); err != nil {
		if isNotFound(err) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	if len(errJSON) > 0 {
		var te taskerr.TaskError
		if err := json.Unmarshal(errJSON, &te); err != nil {
			return nil, err
		}
		r.Error = &te
	}
	return &r, nil
}

func (s *PostgresStore) Cleanup(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE status IN ($1, $2) AND updated < $3`,
		task.StatusCompleted, task.StatusFailed, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func collectTasks(rows pgx.Rows) ([]*task.Task, error) {
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
