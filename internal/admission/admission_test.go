package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexusflow/taskqueue/internal/task"
)

func newTask(kind task.Kind) *task.Task {
	return task.New(kind, nil, task.PriorityNormal)
}

func TestAcquire_GlobalCap(t *testing.T) {
	c := New(Limits{MaxConcurrentTotal: 1, RateWindow: time.Second, RateMaxRequests: 100})
	a, b := newTask(task.KindSearch), newTask(task.KindSearch)

	assert.True(t, c.Acquire(a))
	assert.False(t, c.Acquire(b))

	c.Release(a.ID)
	assert.True(t, c.Acquire(b))
}

func TestAcquire_PerTypeCap(t *testing.T) {
	c := New(Limits{
		MaxConcurrentTotal:  10,
		MaxConcurrentByType: map[string]int{"write": 1},
		RateWindow:          time.Second,
		RateMaxRequests:     100,
	})
	w1, w2 := newTask(task.KindWrite), newTask(task.KindWrite)
	s1 := newTask(task.KindSearch)

	assert.True(t, c.Acquire(w1))
	assert.False(t, c.Acquire(w2), "per-type cap reached")
	assert.True(t, c.Acquire(s1), "uncapped type unaffected")
}

func TestAcquire_RateLimit(t *testing.T) {
	c := New(Limits{MaxConcurrentTotal: 100, RateWindow: time.Minute, RateMaxRequests: 2})
	a, b, d := newTask(task.KindRead), newTask(task.KindRead), newTask(task.KindRead)

	assert.True(t, c.Acquire(a))
	assert.True(t, c.Acquire(b))
	assert.False(t, c.Acquire(d), "rate cap reached")
}

func TestAcquire_RateWindowSlides(t *testing.T) {
	c := New(Limits{MaxConcurrentTotal: 100, RateWindow: 10 * time.Millisecond, RateMaxRequests: 1})
	now := time.Now()
	a := newTask(task.KindRead)
	assert.True(t, c.acquireAt(a, now))
	c.Release(a.ID)

	b := newTask(task.KindRead)
	assert.False(t, c.acquireAt(b, now), "still inside window")
	assert.True(t, c.acquireAt(b, now.Add(20*time.Millisecond)), "window has slid past")
}

func TestUpdateLimits_DoesNotPreemptActive(t *testing.T) {
	c := New(Limits{MaxConcurrentTotal: 5, RateWindow: time.Second, RateMaxRequests: 100})
	a := newTask(task.KindSearch)
	assert.True(t, c.Acquire(a))

	c.UpdateLimits(Limits{MaxConcurrentTotal: 0, RateWindow: time.Second, RateMaxRequests: 100})
	assert.Equal(t, 1, c.ActiveTotal(), "already-active task stays active")

	b := newTask(task.KindSearch)
	assert.False(t, c.Acquire(b), "new admissions now blocked")
}

func TestWaitForSlot_SucceedsAfterRelease(t *testing.T) {
	c := New(Limits{MaxConcurrentTotal: 1, RateWindow: time.Second, RateMaxRequests: 100})
	a := newTask(task.KindSearch)
	assert.True(t, c.Acquire(a))

	done := make(chan struct{})
	go func() {
		time.Sleep(15 * time.Millisecond)
		c.Release(a.ID)
	}()

	b := newTask(task.KindSearch)
	assert.True(t, c.WaitForSlot(b, time.Second, done))
}

func TestWaitForSlot_TimesOut(t *testing.T) {
	c := New(Limits{MaxConcurrentTotal: 1, RateWindow: time.Second, RateMaxRequests: 100})
	a := newTask(task.KindSearch)
	c.Acquire(a)

	b := newTask(task.KindSearch)
	done := make(chan struct{})
	assert.False(t, c.WaitForSlot(b, 20*time.Millisecond, done))
}
