package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

type fakeRecoveryStore struct {
	mu         sync.Mutex
	inProgress []*task.Task
	getErr     error
	metrics    int
}

func (s *fakeRecoveryStore) GetInProgress(ctx context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	out := make([]*task.Task, len(s.inProgress))
	copy(out, s.inProgress)
	return out, nil
}
func (s *fakeRecoveryStore) AppendMetric(ctx context.Context, name string, value float64, labels map[string]string) error {
	s.mu.Lock()
	s.metrics++
	s.mu.Unlock()
	return nil
}

// The remaining Store methods are unused by Manager; stub them to satisfy
// the interface with a thin embed-free fake.
func (s *fakeRecoveryStore) SaveTask(ctx context.Context, t *task.Task) error { return nil }
func (s *fakeRecoveryStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return nil, storage.ErrTaskNotFound
}
func (s *fakeRecoveryStore) UpdateTask(ctx context.Context, id string, patch storage.TaskPatch) error {
	return nil
}
func (s *fakeRecoveryStore) GetPending(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (s *fakeRecoveryStore) CountBacklog(ctx context.Context) (int, error) { return 0, nil }
func (s *fakeRecoveryStore) ClaimOne(ctx context.Context) (*task.Task, error) { return nil, nil }
func (s *fakeRecoveryStore) SaveResult(ctx context.Context, taskID string, result []byte, taskErr *taskerr.TaskError) error {
	return nil
}
func (s *fakeRecoveryStore) GetResult(ctx context.Context, taskID string) (*storage.Result, error) {
	return nil, nil
}
func (s *fakeRecoveryStore) QueryMetrics(ctx context.Context, name string, from, to time.Time) ([]storage.MetricSample, error) {
	return nil, nil
}
func (s *fakeRecoveryStore) TryAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	return true, nil
}
func (s *fakeRecoveryStore) ReleaseAdvisoryLock(ctx context.Context, lockID int64) error { return nil }
func (s *fakeRecoveryStore) CheckAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	return false, nil
}
func (s *fakeRecoveryStore) MoveToDLQ(ctx context.Context, t *task.Task) error { return nil }
func (s *fakeRecoveryStore) DLQCount(ctx context.Context) (int, error)        { return 0, nil }
func (s *fakeRecoveryStore) GetDLQ(ctx context.Context, limit int) ([]*task.Task, error) {
	return nil, nil
}
func (s *fakeRecoveryStore) RemoveFromDLQ(ctx context.Context, id string) error { return nil }
func (s *fakeRecoveryStore) CleanupDLQ(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}
func (s *fakeRecoveryStore) Cleanup(ctx context.Context, before time.Time) (int, error) {
	return 0, nil
}
func (s *fakeRecoveryStore) Healthy(ctx context.Context) storage.Health { return storage.Health{OK: true} }
func (s *fakeRecoveryStore) Close()                                    {}

type fakeFailer struct {
	mu     sync.Mutex
	failed []string
}

func (f *fakeFailer) Fail(ctx context.Context, id string, taskErr *taskerr.TaskError) {
	f.mu.Lock()
	f.failed = append(f.failed, id)
	f.mu.Unlock()
}

func (f *fakeFailer) failedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.failed))
	copy(out, f.failed)
	return out
}

type fakeRecoveryPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *fakeRecoveryPublisher) Publish(ctx context.Context, e *events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}
func (p *fakeRecoveryPublisher) Subscribe(ctx context.Context, types ...events.EventType) (<-chan *events.Event, error) {
	return nil, nil
}
func (p *fakeRecoveryPublisher) Close() error { return nil }

func baseConfig() Config {
	return Config{
		Interval:                10 * time.Millisecond,
		Window:                  time.Hour,
		TaskTimeout:             time.Minute,
		MaxConcurrentRecoveries: 5,
		CircuitFailureThreshold: 3,
		CircuitResetWindow:      50 * time.Millisecond,
		CircuitSuccessThreshold: 1,
	}
}

func TestManager_SweepRecoversStaleTask(t *testing.T) {
	stale := task.New(task.KindRead, nil, task.PriorityNormal)
	stale.Updated = time.Now().UTC().Add(-2 * time.Minute) // older than TaskTimeout=1m

	store := &fakeRecoveryStore{inProgress: []*task.Task{stale}}
	failer := &fakeFailer{}
	pub := &fakeRecoveryPublisher{}

	mgr := New(store, failer, pub, baseConfig())
	mgr.sweep(context.Background())

	require.Eventually(t, func() bool {
		return len(failer.failedIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, stale.ID, failer.failedIDs()[0])

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TaskRecovered, pub.events[0].Type)
}

func TestManager_SweepWarnsWithoutRecoveringMidStaleTask(t *testing.T) {
	warm := task.New(task.KindRead, nil, task.PriorityNormal)
	warm.Updated = time.Now().UTC().Add(-45 * time.Second) // > timeout/2=30s, < timeout=60s

	store := &fakeRecoveryStore{inProgress: []*task.Task{warm}}
	failer := &fakeFailer{}

	mgr := New(store, failer, nil, baseConfig())
	mgr.sweep(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, failer.failedIDs())
	assert.Equal(t, 1, store.metrics)
}

func TestManager_SweepIgnoresFreshTask(t *testing.T) {
	fresh := task.New(task.KindRead, nil, task.PriorityNormal)
	fresh.Updated = time.Now().UTC()

	store := &fakeRecoveryStore{inProgress: []*task.Task{fresh}}
	failer := &fakeFailer{}

	mgr := New(store, failer, nil, baseConfig())
	mgr.sweep(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, failer.failedIDs())
}

func TestManager_SweepRespectsLookbackWindow(t *testing.T) {
	ancient := task.New(task.KindRead, nil, task.PriorityNormal)
	ancient.Updated = time.Now().UTC().Add(-2 * time.Hour)

	cfg := baseConfig()
	cfg.Window = time.Hour

	store := &fakeRecoveryStore{inProgress: []*task.Task{ancient}}
	failer := &fakeFailer{}

	mgr := New(store, failer, nil, cfg)
	mgr.sweep(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, failer.failedIDs(), "task older than the lookback window should be skipped")
}

func TestManager_SweepUsesHeartbeatOverUpdatedWhenNewer(t *testing.T) {
	tk := task.New(task.KindRead, nil, task.PriorityNormal)
	tk.Updated = time.Now().UTC().Add(-2 * time.Minute)
	recent := time.Now().UTC().Add(-5 * time.Second)
	tk.Heartbeat = &recent

	store := &fakeRecoveryStore{inProgress: []*task.Task{tk}}
	failer := &fakeFailer{}

	mgr := New(store, failer, nil, baseConfig())
	mgr.sweep(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, failer.failedIDs(), "a recent heartbeat should prevent recovery even with a stale updated_at")
}

func TestManager_CircuitOpensAfterConsecutiveStorageFailures(t *testing.T) {
	store := &fakeRecoveryStore{getErr: assert.AnError}
	failer := &fakeFailer{}
	cfg := baseConfig()
	cfg.CircuitFailureThreshold = 2

	mgr := New(store, failer, nil, cfg)

	mgr.sweep(context.Background())
	mgr.sweep(context.Background())
	assert.Equal(t, CircuitOpen, mgr.breaker.State())

	store.mu.Lock()
	store.getErr = nil
	store.mu.Unlock()

	// Still open: reset window hasn't elapsed yet.
	mgr.sweep(context.Background())
	assert.Equal(t, CircuitOpen, mgr.breaker.State())
}

func TestManager_StartStop(t *testing.T) {
	store := &fakeRecoveryStore{}
	failer := &fakeFailer{}
	mgr := New(store, failer, nil, baseConfig())

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)
	cancel()
	mgr.Stop()
}

func TestCircuitBreaker_TransitionsThroughStates(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, 20*time.Millisecond)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}
