// Package scheduler implements the periodic poll-score-lock-admit-dispatch
// loop described in spec §4.5, plus the Complete/Fail API the worker pool
// calls back into and the retry policy from §4.7.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nexusflow/taskqueue/internal/admission"
	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/lock"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/priority"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// Dispatcher hands a claimed, admitted task off for execution. Implemented
// by worker.Pool; kept as an interface here so scheduler never imports
// worker (worker likewise defines its own Completer interface for the
// reverse direction and never imports scheduler).
type Dispatcher interface {
	Dispatch(t *task.Task)
}

// DeadLetterQueue is the subset of the DLQ the retry policy needs.
type DeadLetterQueue interface {
	Admit(ctx context.Context, t *task.Task) error
}

// Config carries every tunable named in spec §6's configuration list that
// this component consumes directly.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	AgeCheckEvery   int
	TaskTimeout     time.Duration
	GlobalMaxRetries int
}

// Scheduler is the periodic loop plus the completion API.
type Scheduler struct {
	store      storage.Store
	locks      *lock.Manager
	admission  *admission.Controller
	dlq        DeadLetterQueue
	publisher  events.Publisher
	cfg        Config
	dispatcher Dispatcher

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inFlight map[string]*task.Task

	pollCount int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(store storage.Store, locks *lock.Manager, adm *admission.Controller, dlq DeadLetterQueue, pub events.Publisher, cfg Config) *Scheduler {
	return &Scheduler{
		store:     store,
		locks:     locks,
		admission: adm,
		dlq:       dlq,
		publisher: pub,
		cfg:       cfg,
		timers:    make(map[string]*time.Timer),
		inFlight:  make(map[string]*task.Task),
		stopCh:    make(chan struct{}),
	}
}

// SetDispatcher wires the worker pool in after both are constructed,
// breaking the scheduler<->worker import cycle.
func (s *Scheduler) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	if s.admission.ActiveTotal() >= s.totalCap() {
		return
	}

	batch := s.cfg.BatchSize
	if batch <= 0 {
		batch = s.totalCap()
	}
	pending, err := s.store.GetPending(ctx, batch)
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: get_pending failed")
		return
	}
	if len(pending) == 0 {
		return
	}

	now := time.Now()
	priority.Sort(pending, now)

	s.pollCount++
	if s.cfg.AgeCheckEvery > 0 && s.pollCount%s.cfg.AgeCheckEvery == 0 {
		touched := priority.AgeWeights(pending, now)
		priority.Sort(pending, now) // re-sort: weight bumps shift final scores
		for _, t := range touched {
			weight := t.WeightOrDefault()
			if err := s.store.UpdateTask(ctx, t.ID, storage.TaskPatch{Weight: &weight}); err != nil {
				logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: age_weights persist failed")
			}
		}
	}

	for _, t := range pending {
		if s.admission.ActiveTotal() >= s.totalCap() {
			break
		}
		s.tryDispatch(ctx, t)
	}
}

func (s *Scheduler) totalCap() int {
	return s.admission.TotalCap()
}

func (s *Scheduler) tryDispatch(ctx context.Context, t *task.Task) {
	key := lock.TaskKey(t.ID)
	ok, err := s.locks.Acquire(ctx, key)
	if err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: lock acquire failed")
		return
	}
	if !ok {
		return // another scheduler instance already holds it
	}

	if !s.admission.Acquire(t) {
		_ = s.locks.Release(ctx, key)
		return
	}

	if err := task.NewStateMachine(t).Transition(task.StatusInProgress); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: in_progress transition rejected")
		s.admission.Release(t.ID)
		_ = s.locks.Release(ctx, key)
		return
	}
	status := t.Status
	if err := s.store.UpdateTask(ctx, t.ID, storage.TaskPatch{Status: &status}); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("scheduler: update_task failed")
		s.admission.Release(t.ID)
		_ = s.locks.Release(ctx, key)
		return
	}

	s.mu.Lock()
	s.inFlight[t.ID] = t
	s.timers[t.ID] = time.AfterFunc(s.cfg.TaskTimeout, func() { s.onTimeout(t.ID) })
	s.mu.Unlock()

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, &events.Event{Type: events.TaskStarted, TaskID: t.ID, TaskType: string(t.Type)})
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(t)
	}
}

// lookupTask returns the in-flight task by id, falling back to a storage
// read for callers (recovery manager's synthetic failures) that never went
// through tryDispatch on this Scheduler instance.
func (s *Scheduler) lookupTask(ctx context.Context, id string) *task.Task {
	s.mu.Lock()
	t, ok := s.inFlight[id]
	s.mu.Unlock()
	if ok {
		return t
	}
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		logger.Error().Err(err).Str("task_id", id).Msg("scheduler: get_task failed")
		return nil
	}
	return t
}

// Complete is called by the worker pool when an execution succeeds.
func (s *Scheduler) Complete(ctx context.Context, id string, result []byte) {
	s.clearTimer(id)

	t := s.lookupTask(ctx, id)
	if t == nil {
		return
	}

	if err := s.store.SaveResult(ctx, id, result, nil); err != nil {
		logger.Error().Err(err).Str("task_id", id).Msg("scheduler: save_result failed")
	}

	if err := task.NewStateMachine(t).Complete(result); err != nil {
		logger.Error().Err(err).Str("task_id", id).Msg("scheduler: complete transition rejected")
		s.releaseTask(ctx, id)
		return
	}

	status := t.Status
	err := s.store.UpdateTask(ctx, id, storage.TaskPatch{
		Status:      &status,
		Result:      result,
		CompletedAt: t.CompletedAt,
		ClearError:  true,
	})
	if err != nil {
		logger.Error().Err(err).Str("task_id", id).Msg("scheduler: complete update_task failed")
	}

	s.releaseTask(ctx, id)

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, &events.Event{Type: events.TaskCompleted, TaskID: id})
	}
}

// Fail is called by the worker pool (or on_timeout) when an execution
// fails; it runs the retry policy from spec §4.7.
func (s *Scheduler) Fail(ctx context.Context, id string, taskErr *taskerr.TaskError) {
	s.clearTimer(id)

	t := s.lookupTask(ctx, id)
	if t == nil {
		return
	}

	s.applyRetryPolicy(ctx, t, taskErr)
	s.releaseTask(ctx, id)
}

// onTimeout treats a still-active task as failed with a synthetic timeout
// error; a task that already completed between the timer firing and this
// call is a no-op because releaseTask already cleared inFlight.
func (s *Scheduler) onTimeout(id string) {
	s.mu.Lock()
	_, stillActive := s.inFlight[id]
	s.mu.Unlock()
	if !stillActive {
		return
	}
	s.Fail(context.Background(), id, taskerr.New(taskerr.TaskTimeout, "task exceeded task_timeout"))
}

func (s *Scheduler) clearTimer(id string) {
	s.mu.Lock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) releaseTask(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
	s.admission.Release(id)
	_ = s.locks.Release(ctx, lock.TaskKey(id))
}
