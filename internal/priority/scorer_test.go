package priority

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexusflow/taskqueue/internal/task"
)

func TestCompute_BaseOnly(t *testing.T) {
	now := time.Now().UTC()
	tsk := task.New(task.KindSearch, nil, task.PriorityHigh)
	tsk.Created = now
	w := 0.5
	tsk.Weight = &w

	s := Compute(tsk, now)
	assert.Equal(t, 2.0, s.Base)
	assert.InDelta(t, 0.0, s.Age, 1e-9)
	assert.InDelta(t, 0.0, s.Deadline, 1e-9)
	assert.InDelta(t, 2.0+weightCoefficient*0.5, s.Final, 1e-9)
}

func TestCompute_AgeClampsAtOne(t *testing.T) {
	now := time.Now().UTC()
	tsk := task.New(task.KindRead, nil, task.PriorityLow)
	tsk.Created = now.Add(-48 * time.Hour)

	s := Compute(tsk, now)
	assert.InDelta(t, 1.0, s.Age, 1e-9)
}

func TestCompute_DeadlinePressure(t *testing.T) {
	now := time.Now().UTC()
	tsk := task.New(task.KindWrite, nil, task.PriorityNormal)
	tsk.Created = now.Add(-30 * time.Minute)
	dl := now.Add(10 * time.Minute)
	tsk.Deadline = &dl

	s := Compute(tsk, now)
	// total window = 40m, time left = 10m -> pressure = 1 - 10/40 = 0.75
	assert.InDelta(t, 0.75, s.Deadline, 1e-6)
}

func TestSort_DescendingFinalTieBrokenByCreated(t *testing.T) {
	now := time.Now().UTC()
	older := task.New(task.KindSearch, nil, task.PriorityNormal)
	older.Created = now.Add(-time.Hour)
	newer := task.New(task.KindSearch, nil, task.PriorityNormal)
	newer.Created = now

	tasks := []*task.Task{newer, older}
	Sort(tasks, now)

	assert.Equal(t, older.ID, tasks[0].ID)
}

func TestUrgent_ByPriorityOrDeadline(t *testing.T) {
	now := time.Now().UTC()
	urgentByPriority := task.New(task.KindSearch, nil, task.PriorityUrgent)
	urgentByPriority.Created = now

	dl := now.Add(time.Minute)
	urgentByDeadline := task.New(task.KindSearch, nil, task.PriorityLow)
	urgentByDeadline.Created = now.Add(-59 * time.Minute)
	urgentByDeadline.Deadline = &dl

	calm := task.New(task.KindSearch, nil, task.PriorityNormal)
	calm.Created = now

	got := Urgent([]*task.Task{urgentByPriority, urgentByDeadline, calm}, now)
	assert.Len(t, got, 2)
}

func TestAgeWeights_BumpsOldTasksOnly(t *testing.T) {
	now := time.Now().UTC()
	old := task.New(task.KindSearch, nil, task.PriorityNormal)
	old.Created = now.Add(-AgeWindow)
	fresh := task.New(task.KindSearch, nil, task.PriorityNormal)
	fresh.Created = now

	touched := AgeWeights([]*task.Task{old, fresh}, now)
	assert.Len(t, touched, 1)
	assert.InDelta(t, 0.6, *old.Weight, 1e-9)
	assert.Nil(t, fresh.Weight)
}
