package scheduler

import (
	"context"

	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// applyRetryPolicy implements spec §4.7, run on every failed execution
// whether from the worker pool or a recovery sweep's synthetic timeout.
// t is mutated in place and the result persisted via UpdateTask; every
// status change goes through task.StateMachine so the transition closure
// and its dependent fields (completed_at, moved_to_dlq_at, eligible_at)
// stay consistent with every other caller of the state machine.
func (s *Scheduler) applyRetryPolicy(ctx context.Context, t *task.Task, taskErr *taskerr.TaskError) {
	t.RetryCount++
	strat := taskerr.StrategyFor(taskErr.Code)

	if strat.Cleanup != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Str("task_id", t.ID).Msg("scheduler: retry cleanup panicked")
				}
			}()
			strat.Cleanup()
		}()
	}

	maxRetries := strat.MaxRetries
	if s.cfg.GlobalMaxRetries > 0 && s.cfg.GlobalMaxRetries < maxRetries {
		maxRetries = s.cfg.GlobalMaxRetries
	}

	if !strat.Retryable || t.RetryCount >= maxRetries {
		s.terminate(ctx, t, taskErr)
		return
	}

	s.retry(ctx, t, taskErr, strat)
}

// terminate routes a retry-exhausted task to the DLQ when its error code
// is DLQ-eligible, falling back to a plain failed status if DLQ admission
// is refused (e.g. the DLQ is at capacity).
func (s *Scheduler) terminate(ctx context.Context, t *task.Task, taskErr *taskerr.TaskError) {
	if taskErr.Code.TerminalForDLQ() && s.dlq != nil {
		dlqTask := *t // work on a copy so a refused Admit never corrupts t
		if err := task.NewStateMachine(&dlqTask).MoveToDLQ(taskErr); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: move_to_dlq transition rejected")
		} else if err := s.dlq.Admit(ctx, &dlqTask); err == nil {
			*t = dlqTask
			if s.publisher != nil {
				_ = s.publisher.Publish(ctx, &events.Event{Type: events.TaskDeadLettered, TaskID: t.ID, Error: taskErr})
			}
			return
		} else {
			logger.Warn().Err(err).Str("task_id", t.ID).Msg("scheduler: dlq admit refused, failing task instead")
		}
	}

	if err := task.NewStateMachine(t).Fail(taskErr); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: fail transition rejected")
		return
	}

	status := t.Status
	retryCount := t.RetryCount
	if err := s.store.UpdateTask(ctx, t.ID, storage.TaskPatch{
		Status:     &status,
		RetryCount: &retryCount,
		Error:      taskErr,
	}); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: terminate update_task failed")
	}
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, &events.Event{Type: events.TaskFailed, TaskID: t.ID, Error: taskErr})
	}
}

// retry resets t to pending with a bumped priority and a backed-off
// eligible_at, per spec §4.7 step 5.
func (s *Scheduler) retry(ctx context.Context, t *task.Task, taskErr *taskerr.TaskError, strat taskerr.RecoveryStrategy) {
	backoff := task.Backoff(strat.BackoffMs, t.RetryCount)
	if err := task.NewStateMachine(t).Retry(backoff); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: retry transition rejected")
		return
	}
	t.Error = taskErr

	status := t.Status
	retryCount := t.RetryCount
	priority := t.Priority
	workerID := t.WorkerID
	if err := s.store.UpdateTask(ctx, t.ID, storage.TaskPatch{
		Status:     &status,
		RetryCount: &retryCount,
		Priority:   &priority,
		Error:      taskErr,
		EligibleAt: t.EligibleAt,
		WorkerID:   &workerID,
	}); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: retry update_task failed")
	}
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, &events.Event{Type: events.TaskRequeued, TaskID: t.ID, Error: taskErr, RetryCount: retryCount})
	}
}
