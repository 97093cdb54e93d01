// Package dlq implements spec §4.9's DeadLetterQueue: admission capacity
// enforcement, manual retry-from-DLQ, and a periodic retention cleanup,
// all layered over internal/storage's dead-letter queries rather than a
// separate Redis-stream structure.
package dlq

import (
	"context"
	"sync"
	"time"

	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// Stats is a point-in-time snapshot of the dead-letter partition,
// surfaced by the admin API's DLQ listing endpoint.
type Stats struct {
	Count          int
	MaxSize        int
	AlertThreshold int
	AlertActive    bool
}

// DeadLetterQueue enforces admission capacity, retry-limit, and
// retention policy over the tasks table's dead_letter partition.
// Satisfies scheduler.DeadLetterQueue.
type DeadLetterQueue struct {
	store     storage.Store
	publisher events.Publisher
	cfg       config.DLQConfig

	mu           sync.Mutex
	alertLatched bool // suppresses repeat alerts while count stays above threshold

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(store storage.Store, pub events.Publisher, cfg config.DLQConfig) *DeadLetterQueue {
	return &DeadLetterQueue{
		store:     store,
		publisher: pub,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Admit enforces the capacity check from §4.9 and persists t (which the
// caller has already transitioned to dead_letter via task.StateMachine)
// through Storage. Crossing alert_threshold fires a dlq_threshold_exceeded
// event once per excursion above the line, not on every subsequent admit.
func (d *DeadLetterQueue) Admit(ctx context.Context, t *task.Task) error {
	count, err := d.store.DLQCount(ctx)
	if err != nil {
		return err
	}
	if d.cfg.MaxSize > 0 && count >= d.cfg.MaxSize {
		return taskerr.New(taskerr.ResourceExhausted, "dead letter queue is at max_dlq_size")
	}

	if err := d.store.MoveToDLQ(ctx, t); err != nil {
		return err
	}
	count++

	d.mu.Lock()
	crossed := d.cfg.AlertThreshold > 0 && count >= d.cfg.AlertThreshold && !d.alertLatched
	if crossed {
		d.alertLatched = true
	}
	if count < d.cfg.AlertThreshold {
		d.alertLatched = false
	}
	d.mu.Unlock()

	if crossed && d.publisher != nil {
		_ = d.publisher.Publish(ctx, &events.Event{
			Type:    events.DLQThresholdExceeded,
			Message: "dead letter queue crossed alert_threshold",
			Data:    map[string]interface{}{"count": count, "threshold": d.cfg.AlertThreshold},
		})
	}

	return nil
}

// Retry implements §4.9's retry(id): load from the DLQ, refuse if
// retry_count has reached dlq_retry_limit, otherwise reset to pending
// and persist.
func (d *DeadLetterQueue) Retry(ctx context.Context, id string) (*task.Task, error) {
	t, err := d.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusDeadLetter {
		return nil, storage.ErrNotInDLQ
	}
	if d.cfg.RetryLimit > 0 && t.RetryCount >= d.cfg.RetryLimit {
		return nil, taskerr.New(taskerr.ResourceExhausted, "task has reached dlq_retry_limit")
	}

	if err := task.NewStateMachine(t).Requeue(); err != nil {
		return nil, err
	}
	if err := d.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	if err := d.store.RemoveFromDLQ(ctx, id); err != nil {
		logger.Warn().Err(err).Str("task_id", id).Msg("dlq: remove_from_dlq consistency check failed after retry")
	}

	if d.publisher != nil {
		_ = d.publisher.Publish(ctx, &events.Event{Type: events.TaskRequeued, TaskID: id, RetryCount: t.RetryCount})
	}
	return t, nil
}

// RetryAll retries every task currently in the DLQ, best-effort; a task
// that fails retry (e.g. past its retry limit) is skipped, not fatal to
// the batch.
func (d *DeadLetterQueue) RetryAll(ctx context.Context) (retried int, errs []error) {
	tasks, err := d.store.GetDLQ(ctx, 0)
	if err != nil {
		return 0, []error{err}
	}
	for _, t := range tasks {
		if _, err := d.Retry(ctx, t.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		retried++
	}
	return retried, errs
}

// Size returns the current dead-letter count.
func (d *DeadLetterQueue) Size(ctx context.Context) (int, error) {
	return d.store.DLQCount(ctx)
}

// List returns up to limit dead-lettered tasks, most recently moved first.
func (d *DeadLetterQueue) List(ctx context.Context, limit int) ([]*task.Task, error) {
	return d.store.GetDLQ(ctx, limit)
}

// Contains reports whether id is currently dead-lettered.
func (d *DeadLetterQueue) Contains(ctx context.Context, id string) (bool, error) {
	t, err := d.store.GetTask(ctx, id)
	if err != nil {
		if err == storage.ErrTaskNotFound {
			return false, nil
		}
		return false, err
	}
	return t.Status == task.StatusDeadLetter, nil
}

// Clear purges the entire dead-letter partition regardless of age,
// bypassing the retention window; an operator-triggered action, not
// part of the periodic cleanup loop.
func (d *DeadLetterQueue) Clear(ctx context.Context) (int, error) {
	return d.store.CleanupDLQ(ctx, time.Now().UTC())
}

// Stats returns a capacity/alert snapshot for the admin API.
func (d *DeadLetterQueue) Stats(ctx context.Context) (Stats, error) {
	count, err := d.store.DLQCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Count:          count,
		MaxSize:        d.cfg.MaxSize,
		AlertThreshold: d.cfg.AlertThreshold,
		AlertActive:    d.cfg.AlertThreshold > 0 && count >= d.cfg.AlertThreshold,
	}, nil
}

// Start runs the periodic retention cleanup loop from §4.9.
func (d *DeadLetterQueue) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.cleanupLoop(ctx)
}

func (d *DeadLetterQueue) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *DeadLetterQueue) cleanupLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := d.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.cleanup(ctx)
		}
	}
}

func (d *DeadLetterQueue) cleanup(ctx context.Context) {
	if d.cfg.RetentionTTL <= 0 {
		return
	}
	start := time.Now()
	before := time.Now().UTC().Add(-d.cfg.RetentionTTL)

	removed, err := d.store.CleanupDLQ(ctx, before)
	duration := time.Since(start)
	if err != nil {
		logger.Error().Err(err).Dur("duration", duration).Msg("dlq: cleanup failed")
		return
	}

	remaining, _ := d.store.DLQCount(ctx)
	logger.Info().
		Int("dlq_tasks_cleaned", removed).
		Int("dlq_tasks_remaining", remaining).
		Dur("dlq_cleanup_duration", duration).
		Msg("dlq: retention cleanup complete")
}
