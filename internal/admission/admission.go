// Package admission implements the multi-dimensional admission gate
// described in spec §4.4: a task is admitted only if it passes a global
// concurrency cap, a per-type concurrency cap, and a sliding-window rate
// limit, all process-local and all checked atomically under one mutex.
package admission

import (
	"sync"
	"time"

	"github.com/nexusflow/taskqueue/internal/task"
)

// Limits is the mutable configuration AdmissionController enforces.
// UpdateLimits swaps this struct atomically; tasks already admitted are
// never preempted by a tightened limit.
type Limits struct {
	MaxConcurrentTotal  int
	MaxConcurrentByType map[string]int
	RateWindow          time.Duration
	RateMaxRequests     int
}

// Controller is the AdmissionController.
type Controller struct {
	mu     sync.Mutex
	limits Limits

	active    map[string]*task.Task
	byType    map[string]int
	ring      []time.Time // request timestamps within the last RateWindow
	pollEvery time.Duration
}

func New(limits Limits) *Controller {
	if limits.MaxConcurrentByType == nil {
		limits.MaxConcurrentByType = make(map[string]int)
	}
	return &Controller{
		limits:    limits,
		active:    make(map[string]*task.Task),
		byType:    make(map[string]int),
		pollEvery: 10 * time.Millisecond,
	}
}

// Acquire admits t if all three gates pass, recording it as active on
// success. now is threaded through explicitly to keep the rate window
// testable without wall-clock sleeps.
func (c *Controller) Acquire(t *task.Task) bool {
	return c.acquireAt(t, time.Now())
}

func (c *Controller) acquireAt(t *task.Task, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.active) >= c.limits.MaxConcurrentTotal {
		return false
	}
	typeCap, hasCap := c.limits.MaxConcurrentByType[string(t.Type)]
	if hasCap && c.byType[string(t.Type)] >= typeCap {
		return false
	}

	c.ring = trimWindow(c.ring, now, c.limits.RateWindow)
	if c.limits.RateMaxRequests > 0 && len(c.ring) >= c.limits.RateMaxRequests {
		return false
	}

	c.active[t.ID] = t
	c.byType[string(t.Type)]++
	c.ring = append(c.ring, now)
	return true
}

// Release removes taskID from the active set, freeing its concurrency slot.
func (c *Controller) Release(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.active[taskID]
	if !ok {
		return
	}
	delete(c.active, taskID)
	c.byType[string(t.Type)]--
	if c.byType[string(t.Type)] <= 0 {
		delete(c.byType, string(t.Type))
	}
}

// UpdateLimits atomically replaces the enforced limits.
func (c *Controller) UpdateLimits(patch Limits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if patch.MaxConcurrentByType == nil {
		patch.MaxConcurrentByType = make(map[string]int)
	}
	c.limits = patch
}

// TotalCap returns the currently configured global concurrency cap.
func (c *Controller) TotalCap() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits.MaxConcurrentTotal
}

// ActiveTotal returns the current size of the active set.
func (c *Controller) ActiveTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// ActiveByType returns the current active count for a type.
func (c *Controller) ActiveByType(kind task.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byType[string(kind)]
}

// WaitForSlot busy-polls Acquire at a fixed interval until it succeeds,
// timeout elapses, or done is closed.
func (c *Controller) WaitForSlot(t *task.Task, timeout time.Duration, done <-chan struct{}) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		if c.Acquire(t) {
			return true
		}
		if timeout > 0 && time.Now().After(deadline) {
			return false
		}
		select {
		case <-done:
			return false
		case <-ticker.C:
		}
	}
}

// trimWindow drops ring entries older than window relative to now.
func trimWindow(ring []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ring) && ring[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ring
	}
	return append([]time.Time(nil), ring[i:]...)
}
