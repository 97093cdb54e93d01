// Package recovery implements spec §4.8's RecoveryManager: a periodic
// sweep over in-progress tasks that detects workers gone silent
// (crashed, network-partitioned, or simply slow) and routes them back
// through the retry policy with a synthetic timeout error.
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// Failer is the retry-policy entry point the recovery manager drives; it
// is satisfied by scheduler.Scheduler.Fail. Kept as a narrow interface
// so recovery never imports scheduler.
type Failer interface {
	Fail(ctx context.Context, id string, taskErr *taskerr.TaskError)
}

// Config carries the recovery.* tunables from spec §6's configuration
// list, plus the task_timeout_ms this manager compares staleness
// against (owned by the scheduler/worker config, injected here so
// recovery doesn't need to read the whole app config).
type Config struct {
	Interval                time.Duration
	Window                  time.Duration
	TaskTimeout             time.Duration
	MaxConcurrentRecoveries int
	CircuitFailureThreshold int
	CircuitResetWindow      time.Duration
	CircuitSuccessThreshold int
}

// Manager runs the periodic sweep.
type Manager struct {
	store     storage.Store
	failer    Failer
	publisher events.Publisher
	cfg       Config
	breaker   *CircuitBreaker
	sem       chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(store storage.Store, failer Failer, pub events.Publisher, cfg Config) *Manager {
	max := cfg.MaxConcurrentRecoveries
	if max <= 0 {
		max = 10
	}
	return &Manager{
		store:     store,
		failer:    failer,
		publisher: pub,
		cfg:       cfg,
		breaker: NewCircuitBreaker(
			cfg.CircuitFailureThreshold,
			cfg.CircuitSuccessThreshold,
			cfg.CircuitResetWindow,
		),
		sem:    make(chan struct{}, max),
		stopCh: make(chan struct{}),
	}
}

func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep implements §4.8's per-tick body: query in-progress tasks, bucket
// each by staleness, and recover the critical ones (bounded by the
// semaphore so a restart stampede can't overload Storage).
func (m *Manager) sweep(ctx context.Context) {
	if !m.breaker.Allow() {
		logger.Warn().Str("circuit_state", m.breaker.State().String()).Msg("recovery: circuit open, skipping sweep")
		return
	}

	inProgress, err := m.store.GetInProgress(ctx)
	if err != nil {
		m.breaker.RecordFailure()
		logger.Error().Err(err).Msg("recovery: get_in_progress failed")
		return
	}
	m.breaker.RecordSuccess()

	now := time.Now().UTC()
	window := m.cfg.Window
	timeout := m.cfg.TaskTimeout

	for _, t := range inProgress {
		if window > 0 && now.Sub(t.Updated) > window {
			// Outside the lookback window: a stuck row this old is
			// cleanup's problem, not a live crash to recover from.
			continue
		}

		staleness := now.Sub(staleSince(t))
		switch {
		case timeout > 0 && staleness > timeout:
			m.recover(ctx, t, staleness)
		case timeout > 0 && staleness > timeout/2:
			logger.Warn().Str("task_id", t.ID).Dur("staleness", staleness).Msg("recovery: task approaching timeout")
			_ = m.store.AppendMetric(ctx, "recovery_warning", 1, map[string]string{"task_id": t.ID})
		}
	}
}

// staleSince returns the later of the task's last heartbeat and its
// last update, per §4.8's staleness formula.
func staleSince(t *task.Task) time.Time {
	if t.Heartbeat != nil && t.Heartbeat.After(t.Updated) {
		return *t.Heartbeat
	}
	return t.Updated
}

func (m *Manager) recover(ctx context.Context, t *task.Task, staleness time.Duration) {
	select {
	case m.sem <- struct{}{}:
	default:
		// At max_concurrent_recoveries; this task waits for next tick.
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.sem }()

		logger.Warn().Str("task_id", t.ID).Dur("staleness", staleness).Msg("recovery: recovering stale task")

		if m.publisher != nil {
			_ = m.publisher.Publish(ctx, &events.Event{
				Type:     events.TaskRecovered,
				TaskID:   t.ID,
				TaskType: string(t.Type),
				WorkerID: t.WorkerID,
				Message:  "task exceeded task_timeout without a heartbeat or update",
			})
		}

		m.failer.Fail(ctx, t.ID, taskerr.New(taskerr.TaskTimeout, "recovery: no heartbeat or update within task_timeout"))
	}()
}
