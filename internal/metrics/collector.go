package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/nexusflow/taskqueue/internal/config"
	"github.com/nexusflow/taskqueue/internal/events"
	"github.com/nexusflow/taskqueue/internal/logger"
	"github.com/nexusflow/taskqueue/internal/storage"
	"github.com/nexusflow/taskqueue/internal/task"
	"github.com/nexusflow/taskqueue/internal/taskerr"
)

// snapshotRetention is the fixed snapshot-history bound from spec §4.10;
// unlike the window and cleanup cadence it is not configuration.
const snapshotRetention = time.Hour

// TaskMetric is the per-task half of the collector's two maps: queue
// time, execution time, retry count, terminal status, and last error.
type TaskMetric struct {
	TaskID     string
	Type       string
	QueueTime  time.Duration
	ExecTime   time.Duration
	RetryCount int
	Status     task.Status
	LastError  *taskerr.TaskError
	startedAt  time.Time
	recordedAt time.Time
}

// Snapshot is one rolling queue-wide observation.
type Snapshot struct {
	Timestamp            time.Time
	QueueSize            int
	Active               int
	Completed            int
	Failed               int
	AvgQueueTime         time.Duration
	AvgExecTime          time.Duration
	ThroughputPerMinute  float64
	ErrorRate            float64
	PriorityDistribution map[task.Priority]int
}

type tally struct {
	completed, failed, deadLettered int
	queueTimeSum, execTimeSum       time.Duration
	queueSamples, execSamples       int
}

// Collector is the rolling-window MetricsCollector from spec §4.10. It
// subscribes to the event stream rather than being called directly by
// the scheduler/worker, keeping it decoupled the same way the websocket
// hub and any other event consumer are.
type Collector struct {
	store     storage.Store
	publisher events.Publisher
	cfg       config.MetricsConfig

	mu        sync.Mutex
	perTask   map[string]*TaskMetric
	snapshots []Snapshot
	cur       tally

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCollector(store storage.Store, pub events.Publisher, cfg config.MetricsConfig) *Collector {
	return &Collector{
		store:     store,
		publisher: pub,
		cfg:       cfg,
		perTask:   make(map[string]*TaskMetric),
		stopCh:    make(chan struct{}),
	}
}

// Start subscribes to the task lifecycle events and runs the snapshot
// and cleanup loops.
func (c *Collector) Start(ctx context.Context) error {
	ch, err := c.publisher.Subscribe(ctx,
		events.TaskStarted, events.TaskCompleted, events.TaskFailed,
		events.TaskRequeued, events.TaskDeadLettered)
	if err != nil {
		return err
	}

	c.wg.Add(3)
	go c.consume(ctx, ch)
	go c.snapshotLoop(ctx)
	go c.cleanupLoop(ctx)
	return nil
}

func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) consume(ctx context.Context, ch <-chan *events.Event) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.onEvent(ctx, e)
		}
	}
}

func (c *Collector) onEvent(ctx context.Context, e *events.Event) {
	switch e.Type {
	case events.TaskStarted:
		queueTime := time.Duration(0)
		if t, err := c.store.GetTask(ctx, e.TaskID); err == nil {
			queueTime = e.Timestamp.Sub(t.Created)
		}
		c.mu.Lock()
		c.perTask[e.TaskID] = &TaskMetric{TaskID: e.TaskID, Type: e.TaskType, QueueTime: queueTime, startedAt: e.Timestamp}
		c.cur.queueTimeSum += queueTime
		c.cur.queueSamples++
		c.mu.Unlock()
		RecordTaskSubmission(e.TaskType, "")
		RecordQueueLatency("", queueTime.Seconds())

	case events.TaskCompleted:
		dur := c.finish(e.TaskID, task.StatusCompleted, nil)
		c.mu.Lock()
		c.cur.completed++
		c.mu.Unlock()
		RecordTaskCompletion(e.TaskType, string(task.StatusCompleted), dur.Seconds())

	case events.TaskFailed:
		dur := c.finish(e.TaskID, task.StatusFailed, e.Error)
		c.mu.Lock()
		c.cur.failed++
		c.mu.Unlock()
		RecordTaskCompletion(e.TaskType, string(task.StatusFailed), dur.Seconds())

	case events.TaskDeadLettered:
		dur := c.finish(e.TaskID, task.StatusDeadLetter, e.Error)
		c.mu.Lock()
		c.cur.deadLettered++
		c.mu.Unlock()
		RecordTaskCompletion(e.TaskType, string(task.StatusDeadLetter), dur.Seconds())
		IncrementDLQAdded()

	case events.TaskRequeued:
		c.mu.Lock()
		if tm, ok := c.perTask[e.TaskID]; ok {
			tm.RetryCount = e.RetryCount
		}
		c.mu.Unlock()
		RecordTaskRetry(e.TaskType)
	}
}

func (c *Collector) finish(taskID string, status task.Status, taskErr *taskerr.TaskError) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	tm, ok := c.perTask[taskID]
	if !ok {
		tm = &TaskMetric{TaskID: taskID}
		c.perTask[taskID] = tm
	}
	if !tm.startedAt.IsZero() {
		tm.ExecTime = time.Since(tm.startedAt)
		c.cur.execTimeSum += tm.ExecTime
		c.cur.execSamples++
	}
	tm.Status = status
	tm.LastError = taskErr
	tm.recordedAt = time.Now().UTC()
	return tm.ExecTime
}

func (c *Collector) snapshotLoop(ctx context.Context) {
	defer c.wg.Done()

	window := c.cfg.Window
	if window <= 0 {
		window = 60 * time.Second
	}
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.snapshot(ctx, window)
		}
	}
}

func (c *Collector) snapshot(ctx context.Context, window time.Duration) {
	pending, err := c.store.GetPending(ctx, 100000)
	if err != nil {
		logger.Error().Err(err).Msg("metrics: get_pending failed during snapshot")
		return
	}
	inProgress, err := c.store.GetInProgress(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("metrics: get_in_progress failed during snapshot")
		return
	}

	dist := make(map[task.Priority]int)
	for _, t := range pending {
		dist[t.Priority]++
	}

	c.mu.Lock()
	cur := c.cur
	c.cur = tally{}
	c.mu.Unlock()

	snap := Snapshot{
		Timestamp:            time.Now().UTC(),
		QueueSize:            len(pending),
		Active:               len(inProgress),
		Completed:            cur.completed,
		Failed:               cur.failed,
		ThroughputPerMinute:  perMinute(cur.completed, window),
		PriorityDistribution: dist,
	}
	if cur.queueSamples > 0 {
		snap.AvgQueueTime = cur.queueTimeSum / time.Duration(cur.queueSamples)
	}
	if cur.execSamples > 0 {
		snap.AvgExecTime = cur.execTimeSum / time.Duration(cur.execSamples)
	}
	if cur.completed+cur.failed > 0 {
		snap.ErrorRate = float64(cur.failed) / float64(cur.completed+cur.failed)
	}

	c.mu.Lock()
	c.snapshots = append(c.snapshots, snap)
	c.mu.Unlock()

	UpdateQueueDepth("", float64(snap.QueueSize))
	SetActiveWorkers(float64(snap.Active))

	c.evaluateAlerts(ctx, snap, cur, window)
}

func perMinute(count int, window time.Duration) float64 {
	minutes := window.Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(count) / minutes
}

// evaluateAlerts implements spec §4.10's three default alert rules,
// sourcing thresholds from configuration rather than the hardcoded
// defaults named in the spec.
func (c *Collector) evaluateAlerts(ctx context.Context, snap Snapshot, cur tally, window time.Duration) {
	growthRatio := c.cfg.QueueGrowthRatio
	if growthRatio <= 0 {
		growthRatio = 3
	}
	if float64(snap.QueueSize) > growthRatio*float64(snap.Active) {
		c.warn(ctx, "queue_growth", snap, map[string]interface{}{
			"queue_size": snap.QueueSize, "active": snap.Active, "ratio": growthRatio,
		})
	}

	errRatio := c.cfg.HighErrorRateRatio
	if errRatio <= 0 {
		errRatio = 0.1
	}
	errPerMin := perMinute(cur.failed, window)
	completedPerMin := perMinute(cur.completed, window)
	if errPerMin > errRatio*completedPerMin {
		c.warn(ctx, "high_error_rate", snap, map[string]interface{}{
			"errors_per_min": errPerMin, "completed_per_min": completedPerMin, "ratio": errRatio,
		})
	}

	slowSeconds := c.cfg.SlowExecutionSeconds
	if slowSeconds <= 0 {
		slowSeconds = 10
	}
	if snap.AvgExecTime.Seconds() > slowSeconds {
		c.warn(ctx, "slow_execution", snap, map[string]interface{}{
			"avg_exec_seconds": snap.AvgExecTime.Seconds(), "threshold_seconds": slowSeconds,
		})
	}
}

func (c *Collector) warn(ctx context.Context, rule string, snap Snapshot, data map[string]interface{}) {
	logger.Warn().Str("rule", rule).Time("snapshot_at", snap.Timestamp).Msg("metrics: alert rule triggered")
	if c.publisher == nil {
		return
	}
	data["rule"] = rule
	_ = c.publisher.Publish(ctx, &events.Event{Type: events.QueueHealthWarning, Message: rule, Data: data})
}

func (c *Collector) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	interval := c.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Collector) cleanup() {
	window := c.cfg.Window
	if window <= 0 {
		window = 60 * time.Second
	}
	taskTTL := 2 * window
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, tm := range c.perTask {
		if tm.recordedAt.IsZero() {
			continue
		}
		if now.Sub(tm.recordedAt) > taskTTL {
			delete(c.perTask, id)
		}
	}

	kept := c.snapshots[:0]
	for _, s := range c.snapshots {
		if now.Sub(s.Timestamp) <= snapshotRetention {
			kept = append(kept, s)
		}
	}
	c.snapshots = kept
}

// Snapshots returns a copy of the retained rolling snapshots, most
// recent last.
func (c *Collector) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, len(c.snapshots))
	copy(out, c.snapshots)
	return out
}

// TaskMetrics returns a copy of the current per-task metric for id, if any.
func (c *Collector) TaskMetrics(id string) (TaskMetric, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm, ok := c.perTask[id]
	if !ok {
		return TaskMetric{}, false
	}
	return *tm, true
}
