// Package taskqueue implements the Task Queue (spec §4.6): a
// priority-ordered, bounded-concurrency scheduler that dispatches
// pending tasks to the Agent Executor, enforces per-task timeouts,
// supports cooperative cancellation, and notifies the Webhook Notifier
// on completion.
package taskqueue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agentsvc/agentsvcd/internal/async"
	"github.com/agentsvc/agentsvcd/internal/executor"
	"github.com/agentsvc/agentsvcd/internal/logging"
	"github.com/agentsvc/agentsvcd/internal/taskstore"
	"github.com/agentsvc/agentsvcd/internal/tracing"
	"github.com/agentsvc/agentsvcd/internal/webhook"
)

// tickInterval is the ~1 Hz safety poll that catches work the
// immediate-kick path might have missed (e.g. after a reservation
// failure or a burst of concurrent enqueues).
const tickInterval = 1 * time.Second

// stopDrainTimeout bounds how long Stop waits for in-flight tasks to
// finish before giving up and returning anyway.
const stopDrainTimeout = 10 * time.Second

const drainPollInterval = 100 * time.Millisecond

// Event is emitted on the queue's event channel as tasks move through
// terminal states. Consumption is not required: emit never blocks.
type Event struct {
	Type      string // "taskCompleted", "taskFailed", "taskCancelled"
	TaskID    string
	Result    string
	Error     string
	Reason    string
}

const (
	EventTaskCompleted = "taskCompleted"
	EventTaskFailed    = "taskFailed"
	EventTaskCancelled = "taskCancelled"
)

// activeEntry records when a task was reserved, for status reporting.
type activeEntry struct {
	startedAt time.Time
}

// Queue is the Task Queue. It owns no persistent state of its own;
// task records live in the Task Store.
type Queue struct {
	store    *taskstore.Store
	exec     *executor.Executor
	notifier *webhook.Notifier
	logger   logging.Logger
	tracer   *tracing.Provider

	mu              sync.Mutex
	running         bool
	concurrency     int64
	defaultTimeout  time.Duration
	sem             *semaphore.Weighted
	active          map[string]activeEntry

	events chan Event

	tickCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config bundles Queue construction parameters.
type Config struct {
	Store          *taskstore.Store
	Executor       *executor.Executor
	Notifier       *webhook.Notifier
	Logger         logging.Logger
	Concurrency    int
	DefaultTimeout time.Duration
	// Tracer is optional; a nil Provider disables span creation.
	Tracer *tracing.Provider
}

// New constructs a Queue in the stopped state.
func New(cfg Config) *Queue {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Queue{
		store:          cfg.Store,
		exec:           cfg.Executor,
		notifier:       cfg.Notifier,
		logger:         logging.OrNop(cfg.Logger),
		tracer:         cfg.Tracer,
		concurrency:    int64(concurrency),
		defaultTimeout: timeout,
		sem:            semaphore.NewWeighted(int64(concurrency)),
		active:         make(map[string]activeEntry),
		events:         make(chan Event, 64),
		tickCh:         make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
}

// Events returns the channel on which lifecycle events are published.
func (q *Queue) Events() <-chan Event {
	return q.events
}

func (q *Queue) emit(ev Event) {
	select {
	case q.events <- ev:
	default:
		q.logger.Warn("taskqueue: event channel full, dropping %s for %s", ev.Type, ev.TaskID)
	}
}

// Start recovers any task left processing by a prior crashed process,
// then begins the scheduler loop: one immediate tick plus a ~1 Hz
// safety poll.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.mu.Unlock()

	recovered, err := q.store.ResetProcessingToPending()
	if err != nil {
		return err
	}
	if len(recovered) > 0 {
		q.logger.Warn("taskqueue: recovered %d task(s) stuck in processing", len(recovered))
	}

	q.wg.Add(1)
	async.Go(q.logger, "taskqueue.loop", func() {
		defer q.wg.Done()
		q.loop(ctx)
	})

	q.requestTick()
	return nil
}

// Stop clears the running flag and waits up to 10 seconds for active
// tasks to drain. It does not force-terminate in-flight executions.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()

	q.stopOnce.Do(func() { close(q.stopCh) })

	// q.wg also covers in-flight dispatches, so it is waited on under
	// the same deadline as the drain poll below.
	deadline := time.Now().Add(stopDrainTimeout)
	waited := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(stopDrainTimeout):
	}

	for time.Now().Before(deadline) {
		if q.activeCount() == 0 {
			return
		}
		time.Sleep(drainPollInterval)
	}
	q.logger.Warn("taskqueue: stop timed out after %s with %d task(s) still active", stopDrainTimeout, q.activeCount())
}

func (q *Queue) activeCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// SetConcurrency implements config.TaskQueueUpdater. A shrink does not
// preempt tasks already holding a semaphore slot; it only affects
// future reservations via a freshly sized semaphore.
func (q *Queue) SetConcurrency(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	q.concurrency = int64(n)
	q.sem = semaphore.NewWeighted(int64(n))
	q.mu.Unlock()
	q.requestTick()
}

// SetDefaultTimeoutMs implements config.TaskQueueUpdater.
func (q *Queue) SetDefaultTimeoutMs(ms int) {
	if ms <= 0 {
		return
	}
	q.mu.Lock()
	q.defaultTimeout = time.Duration(ms) * time.Millisecond
	q.mu.Unlock()
}

// AddTask persists a new pending task and requests an immediate
// scheduler tick.
func (q *Queue) AddTask(task taskstore.Task) (*taskstore.Task, error) {
	created, err := q.store.Create(task)
	if err != nil {
		return nil, err
	}
	q.requestTick()
	return created, nil
}

// Cancel cooperatively cancels a task: it evicts it from the active
// set, marks it cancelled, emits taskCancelled, and notifies the
// webhook. In-flight executor work belonging to the task, if any, is
// not killed; its eventual result is discarded because the task is
// already terminal by the time it would try to persist.
func (q *Queue) Cancel(ctx context.Context, taskID string) (*taskstore.Task, error) {
	task, err := q.store.Cancel(taskID)
	if err != nil {
		return nil, err
	}
	q.evict(taskID)
	q.emit(Event{Type: EventTaskCancelled, TaskID: taskID})
	q.notify(ctx, EventTaskCancelled, taskID, task)
	return task, nil
}

// Status is the shape returned by getStatus() (spec §4.6).
type Status struct {
	Running     bool            `json:"running"`
	Concurrency int             `json:"concurrency"`
	ActiveTasks int             `json:"active_tasks"`
	Stats       taskstore.Stats `json:"stats"`
}

// GetStatus reports the queue's live state plus the Task Store's
// aggregate counts.
func (q *Queue) GetStatus() (Status, error) {
	stats, err := q.store.GetStats()
	if err != nil {
		return Status{}, err
	}
	q.mu.Lock()
	running := q.running
	concurrency := int(q.concurrency)
	active := len(q.active)
	q.mu.Unlock()
	return Status{Running: running, Concurrency: concurrency, ActiveTasks: active, Stats: stats}, nil
}

func (q *Queue) requestTick() {
	select {
	case q.tickCh <- struct{}{}:
	default:
	}
}

func (q *Queue) loop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.tick(ctx)
		case <-q.tickCh:
			q.tick(ctx)
		}
	}
}

// tick reserves as many concurrency slots as it can fill with pending
// work, per spec §4.6: fetch the next pending task, insert it into the
// active set before any suspending call, then mark it processing. If
// markProcessing fails the reservation is released.
func (q *Queue) tick(ctx context.Context) {
	for {
		q.mu.Lock()
		running := q.running
		sem := q.sem
		q.mu.Unlock()
		if !running {
			return
		}

		if !sem.TryAcquire(1) {
			return
		}

		task, err := q.store.GetNextPending()
		if err != nil {
			q.logger.Error("taskqueue: GetNextPending failed: %v", err)
			sem.Release(1)
			return
		}
		if task == nil {
			sem.Release(1)
			return
		}

		q.mu.Lock()
		q.active[task.ID] = activeEntry{startedAt: time.Now().UTC()}
		q.mu.Unlock()

		if _, err := q.store.MarkProcessing(task.ID); err != nil {
			q.evict(task.ID)
			sem.Release(1)
			q.logger.Warn("taskqueue: markProcessing(%s) failed, releasing reservation: %v", task.ID, err)
			continue
		}

		dispatched := *task
		q.wg.Add(1)
		async.Go(q.logger, "taskqueue.dispatch", func() {
			defer q.wg.Done()
			defer sem.Release(1)
			q.dispatch(ctx, dispatched)
		})
	}
}

func (q *Queue) evict(taskID string) {
	q.mu.Lock()
	delete(q.active, taskID)
	q.mu.Unlock()
}

// dispatch runs one reserved task to completion, racing the configured
// timeout against the Agent Executor. On timeout the task is marked
// failed immediately; the executor is left to finish in the
// background and its eventual result is dropped on arrival, since the
// task is already terminal.
func (q *Queue) dispatch(parent context.Context, task taskstore.Task) {
	defer q.evict(task.ID)

	parent, span := q.tracer.StartTaskSpan(parent, task.ID, task.Priority)
	defer span.End()

	q.mu.Lock()
	timeout := q.defaultTimeout
	q.mu.Unlock()

	resultCh := make(chan executor.Result, 1)
	async.Go(q.logger, "taskqueue.execute", func() {
		resultCh <- q.exec.Execute(parent, executor.Options{
			Prompt:          task.Prompt,
			ProjectPath:     task.ProjectPath,
			Model:           task.Model,
			SessionID:       task.Metadata.SessionID,
			SystemPrompt:    task.Metadata.SystemPrompt,
			MaxBudgetUSD:    task.Metadata.MaxBudgetUSD,
			AllowedTools:    task.Metadata.AllowedTools,
			DisallowedTools: task.Metadata.DisallowedTools,
			Agent:           task.Metadata.Agent,
			MCPConfig:       task.Metadata.MCPConfig,
		})
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		q.finishTimeout(parent, task)
	case result := <-resultCh:
		q.finishResult(parent, task, result)
	}
}

func (q *Queue) finishTimeout(ctx context.Context, task taskstore.Task) {
	updated, err := q.store.MarkFailed(task.ID, "Task execution timeout")
	if err != nil {
		q.logger.Warn("taskqueue: markFailed(%s) on timeout failed: %v", task.ID, err)
	}
	q.emit(Event{Type: EventTaskFailed, TaskID: task.ID, Reason: "timeout"})
	q.notify(ctx, EventTaskFailed, task.ID, updated)
}

func (q *Queue) finishResult(ctx context.Context, task taskstore.Task, result executor.Result) {
	if result.Success {
		updated, err := q.store.MarkCompleted(task.ID, result.Result, result.CostUSD, result.DurationMs)
		if err != nil {
			q.logger.Warn("taskqueue: markCompleted(%s) failed: %v", task.ID, err)
			return
		}
		q.emit(Event{Type: EventTaskCompleted, TaskID: task.ID, Result: result.Result})
		q.notify(ctx, EventTaskCompleted, task.ID, updated)
		return
	}

	updated, err := q.store.MarkFailed(task.ID, result.Error)
	if err != nil {
		q.logger.Warn("taskqueue: markFailed(%s) failed: %v", task.ID, err)
		return
	}
	q.emit(Event{Type: EventTaskFailed, TaskID: task.ID, Error: result.Error})
	q.notify(ctx, EventTaskFailed, task.ID, updated)
}

func (q *Queue) notify(ctx context.Context, eventType, taskID string, task *taskstore.Task) {
	if q.notifier == nil {
		return
	}
	urlOverride := ""
	if task != nil {
		urlOverride = task.Metadata.WebhookURL
	}
	switch eventType {
	case EventTaskCompleted:
		q.notifier.TaskCompleted(ctx, taskID, task.Result, urlOverride)
	case EventTaskFailed:
		errMsg := ""
		if task != nil {
			errMsg = task.Error
		}
		q.notifier.TaskFailed(ctx, taskID, errMsg, urlOverride)
	case EventTaskCancelled:
		q.notifier.TaskCancelled(ctx, taskID, urlOverride)
	}
}
