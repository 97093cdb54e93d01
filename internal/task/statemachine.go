package task

import (
	"time"

	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// StateMachine enforces spec's status-transition closure (§3) in one
// place so the scheduler, worker pool, recovery manager, and DLQ all go
// through the same gate rather than setting t.Status directly.
type StateMachine struct {
	task *Task
}

func NewStateMachine(t *Task) *StateMachine {
	return &StateMachine{task: t}
}

// Transition attempts the given status change, updating the
// status-dependent fields the invariants require.
func (sm *StateMachine) Transition(target Status) error {
	t := sm.task
	if !t.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	t.Status = target
	t.Touch()

	switch target {
	case StatusCompleted:
		now := t.Updated
		t.CompletedAt = &now
	case StatusDeadLetter:
		now := t.Updated
		t.MovedToDLQAt = &now
	case StatusPending:
		// Retrying or manual DLQ requeue: clear terminal markers so the
		// invariants ("completed_at set iff completed", "moved_to_dlq_at
		// iff dead_letter") keep holding.
		t.CompletedAt = nil
		t.MovedToDLQAt = nil
	}

	return nil
}

// Start marks the task in_progress, owned by workerID.
func (sm *StateMachine) Start(workerID string) error {
	if err := sm.Transition(StatusInProgress); err != nil {
		return err
	}
	sm.task.WorkerID = workerID
	return nil
}

// Complete marks the task completed and records its result.
func (sm *StateMachine) Complete(result []byte) error {
	if err := sm.Transition(StatusCompleted); err != nil {
		return err
	}
	sm.task.Result = result
	sm.task.Error = nil
	return nil
}

// Retry resets the task to pending for another attempt, bumping priority
// per spec's retry policy (§4.7 step 5) and arming EligibleAt with the
// supplied backoff.
func (sm *StateMachine) Retry(backoff time.Duration) error {
	if err := sm.Transition(StatusPending); err != nil {
		return err
	}
	t := sm.task
	t.Priority = t.Priority.Bumped()
	t.WorkerID = ""
	eligible := t.Updated.Add(backoff)
	t.EligibleAt = &eligible
	return nil
}

// Fail marks the task terminally failed (not DLQ-bound).
func (sm *StateMachine) Fail(te *taskerr.TaskError) error {
	if err := sm.Transition(StatusFailed); err != nil {
		return err
	}
	sm.task.Error = te
	return nil
}

// MoveToDLQ marks the task dead_letter.
func (sm *StateMachine) MoveToDLQ(te *taskerr.TaskError) error {
	if err := sm.Transition(StatusDeadLetter); err != nil {
		return err
	}
	sm.task.Error = te
	return nil
}

// Requeue resets a dead_letter task back to pending for a manual retry
// from the DLQ (§4.9 Retry-from-DLQ).
func (sm *StateMachine) Requeue() error {
	if err := sm.Transition(StatusPending); err != nil {
		return err
	}
	t := sm.task
	t.Error = nil
	t.RetryCount++
	t.EligibleAt = nil
	t.WorkerID = ""
	return nil
}
