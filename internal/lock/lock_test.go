package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// fakeStore is an in-memory stand-in for storage.Store that only
// implements the advisory-lock trio meaningfully; every other method is a
// harmless stub so fakeStore satisfies the full interface.
type fakeStore struct {
	mu    sync.Mutex
	held  map[int64]bool
}

func newFakeStore() *fakeStore { return &fakeStore{held: make(map[int64]bool)} }

func (f *fakeStore) TryAdvisoryLock(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[id] {
		return false, nil
	}
	f.held[id] = true
	return true, nil
}

func (f *fakeStore) ReleaseAdvisoryLock(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, id)
	return nil
}

func (f *fakeStore) CheckAdvisoryLock(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[id], nil
}

func (f *fakeStore) SaveTask(context.Context, *task.Task) error { return nil }
func (f *fakeStore) GetTask(context.Context, string) (*task.Task, error) { return nil, nil }
func (f *fakeStore) UpdateTask(context.Context, string, storage.TaskPatch) error { return nil }
func (f *fakeStore) GetPending(context.Context, int) ([]*task.Task, error) { return nil, nil }
func (f *fakeStore) GetInProgress(context.Context) ([]*task.Task, error) { return nil, nil }
func (f *fakeStore) CountBacklog(context.Context) (int, error) { return 0, nil }
func (f *fakeStore) ClaimOne(context.Context) (*task.Task, error) { return nil, nil }
func (f *fakeStore) SaveResult(context.Context, string, []byte, *taskerr.TaskError) error { return nil }
func (f *fakeStore) GetResult(context.Context, string) (*storage.Result, error) { return nil, nil }
func (f *fakeStore) AppendMetric(context.Context, string, float64, map[string]string) error { return nil }
func (f *fakeStore) QueryMetrics(context.Context, string, time.Time, time.Time) ([]storage.MetricSample, error) {
	return nil, nil
}
func (f *fakeStore) MoveToDLQ(context.Context, *task.Task) error { return nil }
func (f *fakeStore) DLQCount(context.Context) (int, error) { return 0, nil }
func (f *fakeStore) GetDLQ(context.Context, int) ([]*task.Task, error) { return nil, nil }
func (f *fakeStore) RemoveFromDLQ(context.Context, string) error { return nil }
func (f *fakeStore) CleanupDLQ(context.Context, time.Time) (int, error) { return 0, nil }
func (f *fakeStore) Cleanup(context.Context, time.Time) (int, error) { return 0, nil }
func (f *fakeStore) Healthy(context.Context) storage.Health { return storage.Health{OK: true} }
func (f *fakeStore) Close() {}

func TestManager_AcquireRelease(t *testing.T) {
	m := New(newFakeStore(), time.Millisecond)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, TaskKey("t1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Acquire(ctx, TaskKey("t1"))
	require.NoError(t, err)
	assert.False(t, ok, "already held elsewhere")

	require.NoError(t, m.Release(ctx, TaskKey("t1")))

	ok, err = m.Acquire(ctx, TaskKey("t1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_IsLocked(t *testing.T) {
	m := New(newFakeStore(), time.Millisecond)
	ctx := context.Background()

	locked, err := m.IsLocked(ctx, TaskKey("t2"))
	require.NoError(t, err)
	assert.False(t, locked)

	_, err = m.Acquire(ctx, TaskKey("t2"))
	require.NoError(t, err)

	locked, err = m.IsLocked(ctx, TaskKey("t2"))
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestManager_WaitTimesOutWhenHeld(t *testing.T) {
	store := newFakeStore()
	owner := New(store, time.Millisecond)
	waiter := New(store, time.Millisecond)
	ctx := context.Background()

	ok, err := owner.Acquire(ctx, TaskKey("t3"))
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	ok, err = waiter.Wait(ctx, TaskKey("t3"), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestManager_WaitSucceedsAfterRelease(t *testing.T) {
	store := newFakeStore()
	owner := New(store, time.Millisecond)
	waiter := New(store, time.Millisecond)
	ctx := context.Background()

	_, err := owner.Acquire(ctx, TaskKey("t4"))
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = owner.Release(ctx, TaskKey("t4"))
	}()

	ok, err := waiter.Wait(ctx, TaskKey("t4"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_ReleaseAll(t *testing.T) {
	store := newFakeStore()
	m := New(store, time.Millisecond)
	ctx := context.Background()

	_, _ = m.Acquire(ctx, TaskKey("a"))
	_, _ = m.Acquire(ctx, TaskKey("b"))

	require.NoError(t, m.ReleaseAll(ctx))

	locked, _ := m.IsLocked(ctx, TaskKey("a"))
	assert.False(t, locked)
	locked, _ = m.IsLocked(ctx, TaskKey("b"))
	assert.False(t, locked)
}

func TestHashKey_Deterministic(t *testing.T) {
	assert.Equal(t, hashKey("task:abc"), hashKey("task:abc"))
}
