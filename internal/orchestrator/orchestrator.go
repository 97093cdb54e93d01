// Package orchestrator wires the task queue core's components together
// and sequences the startup/shutdown order described in spec §5. It is
// the only package that imports scheduler, worker, recovery and dlq all
// at once; every pairwise collaboration between them is expressed as a
// narrow interface owned by the consuming package, set here after both
// sides exist.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nexusflow/taskqueue/internal/admission"
	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/dlq"
	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/lock"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/metrics"
	"github.com/nexusflow/taskqueue/internal/recovery"
	"github.com/nexusflow/taskqueue/internal/scheduler"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/worker"
)

// Orchestrator owns the full component graph for one process: the
// scheduler's poll loop, the worker pool, the recovery sweep, the DLQ's
// admission/cleanup, and (when enabled) the rolling metrics collector.
// cmd/worker constructs one; cmd/api-server does not, and builds only the
// DLQ handle and HTTP server it serves reads and admin operations from.
type Orchestrator struct {
	cfg *config.Config

	Store     storage.Store
	Locks     *lock.Manager
	Admission *admission.Controller
	Scheduler *scheduler.Scheduler
	Pool      *worker.Pool
	Recovery  *recovery.Manager
	DLQ       *dlq.DeadLetterQueue
	Metrics   *metrics.Collector

	publisher events.Publisher
}

// New builds every component and wires the cross-package collaborations,
// but starts nothing; call Start to run the background loops.
func New(cfg *config.Config, store storage.Store, publisher events.Publisher, handlers map[task.Kind]worker.Handler) *Orchestrator {
	locks := lock.New(store, cfg.Lock.PollInterval)

	admissionCtrl := admission.New(admission.Limits{
		MaxConcurrentTotal:  cfg.Admission.MaxConcurrentTotal,
		MaxConcurrentByType: cfg.Admission.MaxConcurrentByType,
		RateWindow:          cfg.Admission.RateWindow,
		RateMaxRequests:     cfg.Admission.RateMaxRequests,
	})

	dlqQueue := dlq.New(store, publisher, cfg.DLQ)

	sched := scheduler.New(store, locks, admissionCtrl, dlqQueue, publisher, scheduler.Config{
		PollInterval:     cfg.Scheduler.PollInterval,
		BatchSize:        cfg.Scheduler.BatchSize,
		AgeCheckEvery:    cfg.Scheduler.AgeCheckEvery,
		TaskTimeout:      cfg.Worker.TaskTimeout,
		GlobalMaxRetries: cfg.Scheduler.MaxRetries,
	})

	executor := worker.NewExecutor(handlers)
	pool := worker.NewPool(cfg.Worker, store, executor)
	pool.SetCompleter(sched)
	sched.SetDispatcher(pool)

	recoveryMgr := recovery.New(store, sched, publisher, recovery.Config{
		Interval:                cfg.Recovery.Interval,
		Window:                  cfg.Recovery.Window,
		TaskTimeout:             cfg.Worker.TaskTimeout,
		MaxConcurrentRecoveries: cfg.Recovery.MaxConcurrentRecoveries,
		CircuitFailureThreshold: cfg.Recovery.CircuitFailureThreshold,
		CircuitResetWindow:      cfg.Recovery.CircuitResetWindow,
		CircuitSuccessThreshold: cfg.Recovery.CircuitSuccessThreshold,
	})

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(store, publisher, cfg.Metrics)
	}

	return &Orchestrator{
		cfg:       cfg,
		Store:     store,
		Locks:     locks,
		Admission: admissionCtrl,
		Scheduler: sched,
		Pool:      pool,
		Recovery:  recoveryMgr,
		DLQ:       dlqQueue,
		Metrics:   collector,
		publisher: publisher,
	}
}

// Start brings up every background loop in dependency order: the worker
// pool must be accepting dispatches before the scheduler starts polling,
// and the metrics collector must be subscribed before anything else
// publishes, so no early event is silently missed.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.Metrics != nil {
		if err := o.Metrics.Start(ctx); err != nil {
			return fmt.Errorf("orchestrator: metrics collector start: %w", err)
		}
	}

	if err := o.Pool.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator: worker pool start: %w", err)
	}

	o.DLQ.Start(ctx)
	o.Recovery.Start(ctx)
	o.Scheduler.Start(ctx)

	logger.Info().Msg("orchestrator: all components started")
	return nil
}

// Stop runs the graceful shutdown sequence from spec §5: stop the
// scheduler's poll loop first so no new task is claimed, let in-flight
// workers finish within their grace period, stop the recovery sweep and
// DLQ cleanup, then release every advisory lock this process still
// holds. It does not close Store or the event publisher; the caller
// constructed both and owns their lifecycle.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.Scheduler.Stop()

	if err := o.Pool.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("orchestrator: worker pool stop error")
	}

	o.Recovery.Stop()
	o.DLQ.Stop()
	if o.Metrics != nil {
		o.Metrics.Stop()
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Locks.ReleaseAll(releaseCtx); err != nil {
		logger.Error().Err(err).Msg("orchestrator: release_all locks error")
		return err
	}

	logger.Info().Msg("orchestrator: shutdown complete")
	return nil
}
