package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// State represents the worker pool's current operational state
type State int

const (
	StateIdle         State = iota // Not processing, waiting to start
	StateBusy                      // Actively processing tasks
	StatePaused                    // Temporarily stopped, can resume
	StateShuttingDown              // Gracefully stopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Completer is the scheduler-shaped callback the pool reports completion
// and failure through. Implemented by scheduler.Scheduler; kept as a
// narrow interface here so worker never imports scheduler (scheduler
// imports worker.Pool through its own Dispatcher interface instead).
type Completer interface {
	Complete(ctx context.Context, id string, result []byte)
	Fail(ctx context.Context, id string, taskErr *taskerr.TaskError)
}

// Pool manages a pool of concurrent worker goroutines that execute tasks
// dispatched by the scheduler, per spec §4.6. Size is elastic between
// config.WorkerConfig.Min and .Max, adjusted every ScaleCheckInterval by
// comparing the pool's own intake backlog per worker against the
// high/low watermarks.
type Pool struct {
	id        string
	store     storage.Store
	executor  *Executor
	completer Completer
	cfg       config.WorkerConfig

	tasks chan *task.Task // intake: dispatched, not yet picked up by a worker

	stateMu sync.RWMutex
	state   State

	mu      sync.Mutex // guards workers/stopOne below
	workers int
	stopOne chan struct{}

	currentTasks sync.Map // taskID -> *runningTask
	startedAt    time.Time

	ctx      context.Context
	pauseCh  chan struct{}
	resumeCh chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type runningTask struct {
	task      *task.Task
	cancel    context.CancelFunc
	startedAt time.Time
}

// NewPool creates a worker pool backed by store (for heartbeats) and
// executor (for handler dispatch); completer is wired in after the
// scheduler is constructed via SetCompleter, mirroring scheduler.SetDispatcher.
func NewPool(cfg config.WorkerConfig, store storage.Store, executor *Executor) *Pool {
	id := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	return &Pool{
		id:       id,
		store:    store,
		executor: executor,
		cfg:      cfg,
		state:    StateIdle,
		// Generous intake buffer: the scheduler already gates total
		// in-flight count via the admission controller, so Dispatch
		// should never actually block in steady state.
		tasks:    make(chan *task.Task, cfg.Max*4),
		// Buffered so a scale-down send never blocks waiting for an idle
		// worker to be selecting on it; each worker consumes one token
		// off this channel the next time it goes looking for work.
		stopOne:  make(chan struct{}, cfg.Max),
		pauseCh:  make(chan struct{}),
		resumeCh: make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// SetCompleter wires the scheduler in after both are constructed.
func (p *Pool) SetCompleter(c Completer) {
	p.completer = c
}

// ID returns the worker pool's unique identifier.
func (p *Pool) ID() string { return p.id }

// Dispatch hands a claimed, admitted task to the pool for execution. It
// satisfies scheduler.Dispatcher. Never blocks the scheduler's poll loop
// in practice: cfg.Max*4 capacity comfortably exceeds what the admission
// controller ever allows in flight at once.
func (p *Pool) Dispatch(t *task.Task) {
	select {
	case p.tasks <- t:
	case <-p.stopCh:
	}
}

// Start spawns cfg.Min worker goroutines plus the autoscaler loop.
func (p *Pool) Start(ctx context.Context) error {
	p.ctx = ctx
	p.startedAt = time.Now().UTC()

	p.stateMu.Lock()
	p.state = StateBusy
	p.stateMu.Unlock()

	registerPool(p)

	min := p.cfg.Min
	if min < 1 {
		min = 1
	}
	p.mu.Lock()
	for i := 0; i < min; i++ {
		p.spawnWorkerLocked()
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.autoscaleLoop(ctx)

	logger.Info().Str("worker_id", p.id).Int("workers", min).Msg("worker pool started")
	return nil
}

// Stop gracefully stops the worker pool: each worker finishes its current
// task, then exits; Stop waits up to ShutdownTimeout for that to happen.
func (p *Pool) Stop(ctx context.Context) error {
	defer deregisterPool(p)

	p.stateMu.Lock()
	p.state = StateShuttingDown
	p.stateMu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Str("worker_id", p.id).Msg("worker pool stopped gracefully")
	case <-time.After(p.cfg.ShutdownTimeout):
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown timed out")
	case <-ctx.Done():
		logger.Warn().Str("worker_id", p.id).Msg("worker pool shutdown canceled")
	}

	return nil
}

// Pause stops workers from picking up new tasks without tearing the pool
// down; in-flight tasks run to completion.
func (p *Pool) Pause() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == StateBusy {
		p.state = StatePaused
		close(p.pauseCh)
		p.pauseCh = make(chan struct{})
		logger.Info().Str("worker_id", p.id).Msg("worker pool paused")
	}
}

// Resume continues task processing after a pause.
func (p *Pool) Resume() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state == StatePaused {
		p.state = StateBusy
		close(p.resumeCh)
		p.resumeCh = make(chan struct{})
		logger.Info().Str("worker_id", p.id).Msg("worker pool resumed")
	}
}

// State returns the current worker pool state.
func (p *Pool) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

// ActiveTasks returns the count of currently running tasks.
func (p *Pool) ActiveTasks() int {
	count := 0
	p.currentTasks.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// WorkerCount returns the current elastic worker goroutine count.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Backlog returns the number of tasks dispatched but not yet picked up.
func (p *Pool) Backlog() int {
	return len(p.tasks)
}

// spawnWorkerLocked starts one worker goroutine; caller must hold p.mu.
func (p *Pool) spawnWorkerLocked() {
	p.workers++
	p.wg.Add(1)
	go p.runWorker(p.ctx)
}

func (p *Pool) runWorker(ctx context.Context) {
	defer p.wg.Done()

	for {
		if p.State() == StatePaused {
			select {
			case <-p.resumeCh:
			case <-p.stopOne:
				return
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-p.stopOne:
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.execute(ctx, t)
		}
	}
}

// execute runs one task end to end: heartbeat ticker, handler dispatch
// via the Executor, and the Complete/Fail callback into the scheduler.
func (p *Pool) execute(ctx context.Context, t *task.Task) {
	log := logger.WithTask(t.ID)

	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	rt := &runningTask{task: t, cancel: cancel, startedAt: time.Now()}
	p.currentTasks.Store(t.ID, rt)
	defer p.currentTasks.Delete(t.ID)

	now := time.Now().UTC()
	workerID := p.id
	if err := p.store.UpdateTask(ctx, t.ID, storage.TaskPatch{
		WorkerID:  &workerID,
		Heartbeat: &now,
	}); err != nil {
		log.Error().Err(err).Msg("worker: heartbeat update on start failed")
	}

	hbStop := make(chan struct{})
	go p.heartbeatLoop(t.ID, hbStop)
	defer close(hbStop)

	result, execErr := p.executor.Execute(taskCtx, t)

	if execErr != nil {
		if p.completer != nil {
			p.completer.Fail(ctx, t.ID, execErr)
		}
		return
	}
	if p.completer != nil {
		p.completer.Complete(ctx, t.ID, result)
	}
}

// heartbeatLoop periodically refreshes Storage's heartbeat column for a
// running task so the recovery manager can distinguish a live, slow task
// from an orphan left behind by a crashed worker.
func (p *Pool) heartbeatLoop(taskID string, stop <-chan struct{}) {
	interval := p.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if err := p.store.UpdateTask(context.Background(), taskID, storage.TaskPatch{Heartbeat: &now}); err != nil {
				logger.Error().Err(err).Str("task_id", taskID).Msg("worker: heartbeat refresh failed")
			}
		}
	}
}

// autoscaleLoop implements spec §4.6's elastic sizing: every
// ScaleCheckInterval, scale up by one worker if backlog/workers exceeds
// HighWatermark and capacity allows, scale down by one if it falls below
// LowWatermark and the floor allows.
func (p *Pool) autoscaleLoop(ctx context.Context) {
	defer p.wg.Done()

	interval := p.cfg.ScaleCheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.autoscale()
		}
	}
}

func (p *Pool) autoscale() {
	backlog := p.Backlog()

	p.mu.Lock()
	defer p.mu.Unlock()

	workers := p.workers
	if workers == 0 {
		workers = 1
	}
	perWorker := float64(backlog) / float64(workers)

	high := p.cfg.HighWatermark
	low := p.cfg.LowWatermark

	switch {
	case perWorker > float64(high) && p.workers < p.cfg.Max:
		p.spawnWorkerLocked()
		logger.Info().Int("workers", p.workers).Float64("backlog_per_worker", perWorker).Msg("worker pool scaled up")
	case perWorker < float64(low) && p.workers > p.cfg.Min:
		p.workers--
		p.stopOne <- struct{}{}
		logger.Info().Int("workers", p.workers).Float64("backlog_per_worker", perWorker).Msg("worker pool scaled down")
	}
}
