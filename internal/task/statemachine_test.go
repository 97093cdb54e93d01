package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/taskqueue/internal/taskerr"
)

func TestStateMachine_HappyPath(t *testing.T) {
	tsk := New(KindSearch, []byte(`{"query":"q"}`), PriorityNormal)
	sm := NewStateMachine(tsk)

	require.NoError(t, sm.Start("worker-1"))
	assert.Equal(t, StatusInProgress, tsk.Status)
	assert.Equal(t, "worker-1", tsk.WorkerID)

	require.NoError(t, sm.Complete([]byte(`{"pages":[]}`)))
	assert.Equal(t, StatusCompleted, tsk.Status)
	require.NotNil(t, tsk.CompletedAt)
	assert.Nil(t, tsk.Error)
}

func TestStateMachine_RetryBumpsPriorityAndArmsEligibleAt(t *testing.T) {
	tsk := New(KindRead, nil, PriorityNormal)
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Start("worker-1"))

	require.NoError(t, sm.Retry(2*time.Second))
	assert.Equal(t, StatusPending, tsk.Status)
	assert.Equal(t, PriorityHigh, tsk.Priority)
	require.NotNil(t, tsk.EligibleAt)
	assert.True(t, tsk.EligibleAt.After(tsk.Updated.Add(-time.Millisecond)))
	assert.Empty(t, tsk.WorkerID)
}

func TestStateMachine_MoveToDLQSetsMovedAt(t *testing.T) {
	tsk := New(KindWrite, nil, PriorityNormal)
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Start("w"))

	terr := taskerr.New(taskerr.TaskExecutionFailed, "handler exploded")
	require.NoError(t, sm.MoveToDLQ(terr))
	assert.Equal(t, StatusDeadLetter, tsk.Status)
	require.NotNil(t, tsk.MovedToDLQAt)
	assert.Equal(t, taskerr.TaskExecutionFailed, tsk.Error.Code)
}

func TestStateMachine_RequeueFromDLQ(t *testing.T) {
	tsk := New(KindDelete, nil, PriorityLow)
	sm := NewStateMachine(tsk)
	require.NoError(t, sm.Start("w"))
	require.NoError(t, sm.MoveToDLQ(taskerr.New(taskerr.TaskExecutionFailed, "boom")))

	require.NoError(t, sm.Requeue())
	assert.Equal(t, StatusPending, tsk.Status)
	assert.Nil(t, tsk.Error)
	assert.Nil(t, tsk.MovedToDLQAt)
	assert.Equal(t, 1, tsk.RetryCount)
}

func TestStateMachine_InvalidTransitionRejected(t *testing.T) {
	tsk := New(KindUpdate, nil, PriorityNormal)
	sm := NewStateMachine(tsk)
	err := sm.Transition(StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestBackoff_ExponentialGrowth(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, Backoff(1000, 1))
	assert.Equal(t, 2000*time.Millisecond, Backoff(1000, 2))
	assert.Equal(t, 4000*time.Millisecond, Backoff(1000, 3))
	assert.Equal(t, 1000*time.Millisecond, Backoff(1000, 0))
}
