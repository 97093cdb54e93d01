package storage

import (
	"context"
	"time"

	"github.com/nexusflow/taskqueue/internal/task"
)

// MoveToDLQ persists a task already transitioned to dead_letter by the
// caller's state machine; it is a plain upsert since the row already
// exists from the original save_task.
func (s *PostgresStore) MoveToDLQ(ctx context.Context, t *task.Task) error {
	return s.SaveTask(ctx, t)
}

func (s *PostgresStore) DLQCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks WHERE status = $1`, task.StatusDeadLetter).Scan(&n)
	return n, err
}

func (s *PostgresStore) GetDLQ(ctx context.Context, limit int) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1
		ORDER BY moved_to_dlq_at DESC
		LIMIT $2`, task.StatusDeadLetter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// RemoveFromDLQ confirms a task has left the dead-letter partition. Tasks
// live in the same table regardless of status, so "removal" is the status
// flip SaveTask/UpdateTask already performed when retrying out of the DLQ;
// this call only guards against calling it on a row that is still (or
// again) dead_letter, which would indicate the retry transaction above it
// never actually ran.
func (s *PostgresStore) RemoveFromDLQ(ctx context.Context, id string) error {
	var status task.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if isNotFound(err) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if status == task.StatusDeadLetter {
		return ErrNotInDLQ
	}
	return nil
}

func (s *PostgresStore) CleanupDLQ(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tasks WHERE status = $1 AND moved_to_dlq_at < $2`,
		task.StatusDeadLetter, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
